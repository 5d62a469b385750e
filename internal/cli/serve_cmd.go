package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/geckos/internal/audit"
	"github.com/rudransh-shrivastava/geckos/internal/auth"
	"github.com/rudransh-shrivastava/geckos/internal/channel"
	"github.com/rudransh-shrivastava/geckos/internal/config"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/manager"
	"github.com/rudransh-shrivastava/geckos/internal/metrics"
	"github.com/rudransh-shrivastava/geckos/internal/signaling"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/rudransh-shrivastava/geckos/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveListen     string
	serveLogLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the signaling server",
	Long:  `runs the geckos signaling server until interrupted, connected clients get an echo channel`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Listen = serveListen
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = serveLogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML config file")
	serveCmd.Flags().StringVar(&serveListen, "listen", config.DefaultListen, "address to listen on")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level")
}

// serve wires the server components together and blocks until ctx ends.
func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	var observers []manager.Observer

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(nil)
		observers = append(observers, collector)
	}

	var feed *signaling.Feed
	if cfg.Events.Enabled {
		feed = signaling.NewFeed(log)
		observers = append(observers, feed)
	}

	if cfg.Audit.Enabled {
		db, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return err
		}
		recorder := audit.NewRecorder(audit.NewSessionStore(db), log)
		defer recorder.Close()
		observers = append(observers, recorder)
	}

	m, err := manager.New(manager.Options{
		Engine:        webrtc.New(log),
		WebRTC:        cfg.WebRTC,
		Timeouts:      cfg.Timeouts,
		Authorization: auth.TokenPolicy(cfg.Auth.Tokens),
		Logger:        log,
		Observers:     observers,
		OnConnection:  echo(log),
	})
	if err != nil {
		return err
	}
	defer m.Close()

	srvCfg := signaling.Config{
		Addr:   cfg.Listen,
		Root:   cfg.Root,
		CORS:   cfg.CORS,
		Feed:   feed,
		Logger: log,
	}
	if collector != nil {
		srvCfg.Metrics = collector.Handler()
		srvCfg.MetricsPath = cfg.Metrics.Path
	}

	srv, err := signaling.NewServer(m, srvCfg)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return srv.Start(ctx)
}

// echo sends every "chat" event and raw frame back to its sender.
func echo(log *logrus.Logger) func(*channel.Channel) {
	return func(ch *channel.Channel) {
		entry := log.WithField("connection", ch.ID())
		entry.Info("Channel open")

		ch.On("chat", func(data json.RawMessage) {
			if err := ch.Emit("chat", data); err != nil {
				entry.Warnf("Failed to echo chat: %v", err)
			}
		})
		ch.OnRaw(func(data []byte) {
			if err := ch.SendRaw(data); err != nil {
				entry.Warnf("Failed to echo raw frame: %v", err)
			}
		})
		ch.OnDisconnect(func(state transport.State) {
			entry.Infof("Channel closed (%s)", state)
		})
	}
}
