package main

import "github.com/rudransh-shrivastava/geckos/internal/cli"

func main() {
	cli.Execute()
}
