package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/geckos/internal/signaling"
	"github.com/spf13/cobra"
)

var eventsURL string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "follows the server's lifecycle feed",
	Long:  `connects to a geckos server's event feed and prints connection lifecycle events until interrupted`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return followEvents(ctx, eventsURL, cmd.OutOrStdout())
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsURL, "url", "ws://localhost:9208/.wrtc/v2/events", "event feed url")
}

func followEvents(ctx context.Context, url string, w io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to feed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev signaling.FeedEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Fprintln(w, formatEvent(ev))
	}
}

func formatEvent(ev signaling.FeedEvent) string {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case signaling.EventConnectionRemoved:
		return fmt.Sprintf("%s %-18s %s (%s)", ts, ev.Type, ev.ID, ev.State)
	case signaling.EventHandshakeFinished:
		return fmt.Sprintf("%s %-18s status=%d elapsed=%dms", ts, ev.Type, ev.Status, ev.ElapsedMS)
	default:
		return fmt.Sprintf("%s %-18s %s", ts, ev.Type, ev.ID)
	}
}
