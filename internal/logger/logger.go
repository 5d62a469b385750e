package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[37m"
)

// PrettyFormatter prints "time LEVEL message key=value ..." with colored levels.
type PrettyFormatter struct {
	// NoColor disables ANSI escapes, useful when writing to files.
	NoColor bool
}

func (f *PrettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(e.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(f.colorizeLevel(e.Level))
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f.NoColor {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		} else {
			fmt.Fprintf(&b, " %s%s%s=%v", colorGray, k, colorReset, e.Data[k])
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *PrettyFormatter) colorizeLevel(level logrus.Level) string {
	var color string
	var name string

	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		color = colorBlue
		name = "DEBUG"
	case logrus.InfoLevel:
		color = colorGreen
		name = "INFO"
	case logrus.WarnLevel:
		color = colorYellow
		name = "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		color = colorRed
		name = "ERROR"
	default:
		color = colorGray
		name = strings.ToUpper(level.String())
	}

	if f.NoColor {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("%s%-5s%s", color, name, colorReset)
}

type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger from cfg. Format is "console" (default) or "json".
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	switch strings.ToLower(cfg.Format) {
	case "", "console", "pretty":
		log.SetFormatter(&PrettyFormatter{})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	log.SetLevel(level)

	return log, nil
}

func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&PrettyFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log
}
