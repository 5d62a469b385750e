package cli

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var bench Bench

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "load tests a signaling server",
	Long:  `fires signaling requests at a geckos server and reports status codes and latency, optionally completing each WebRTC handshake`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		bench.Output = cmd.ErrOrStderr()
		report, err := bench.Run(ctx)
		report.Print(cmd.OutOrStdout())
		return err
	},
}

func init() {
	benchCmd.Flags().StringVar(&bench.URL, "url", "http://localhost:9208/.wrtc/v2", "signaling root url")
	benchCmd.Flags().IntVarP(&bench.Requests, "requests", "n", 100, "number of handshakes")
	benchCmd.Flags().IntVarP(&bench.Concurrency, "concurrency", "c", 10, "concurrent handshakes")
	benchCmd.Flags().StringVar(&bench.Token, "token", "", "value of the Authorization header")
	benchCmd.Flags().BoolVar(&bench.Connect, "connect", false, "complete the WebRTC handshake")
	benchCmd.Flags().DurationVar(&bench.Timeout, "timeout", 10*time.Second, "per request timeout")
}
