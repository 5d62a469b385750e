package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	feedBuffer   = 32
	writeTimeout = 5 * time.Second
)

const (
	EventConnectionCreated = "connection_created"
	EventChannelReady      = "channel_ready"
	EventConnectionRemoved = "connection_removed"
	EventHandshakeFinished = "handshake_finished"
)

// FeedEvent is one lifecycle notification sent to feed subscribers.
type FeedEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	State     string    `json:"state,omitempty"`
	Status    int       `json:"status,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	Time      time.Time `json:"time"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Feed broadcasts lifecycle events to websocket subscribers. Subscribers
// that fall behind are disconnected.
type Feed struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan FeedEvent
	once sync.Once
}

func (c *feedClient) stop() {
	c.once.Do(func() { close(c.send) })
}

func NewFeed(log *logrus.Logger) *Feed {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Feed{logger: log, clients: make(map[*feedClient]struct{})}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debugf("Failed to upgrade feed connection: %v", err)
		return
	}

	client := &feedClient{conn: conn, send: make(chan FeedEvent, feedBuffer)}
	if !f.add(client) {
		_ = conn.Close()
		return
	}
	f.logger.WithField("remote", r.RemoteAddr).Debug("Feed subscriber connected")

	go f.writeLoop(client)

	// Subscribers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.remove(client)
	f.logger.WithField("remote", r.RemoteAddr).Debug("Feed subscriber disconnected")
}

func (f *Feed) writeLoop(c *feedClient) {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			f.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (f *Feed) add(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
	c.stop()
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) Publish(ev FeedEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- ev:
		default:
			f.logger.Warn("Feed subscriber too slow, disconnecting")
			delete(f.clients, c)
			c.stop()
		}
	}
}

// Close disconnects every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		c.stop()
	}
}

func (f *Feed) ConnectionCreated(info connection.Info) {
	f.Publish(FeedEvent{Type: EventConnectionCreated, ID: info.ID})
}

func (f *Feed) ChannelReady(info connection.Info) {
	f.Publish(FeedEvent{Type: EventChannelReady, ID: info.ID})
}

func (f *Feed) ConnectionRemoved(info connection.Info, state transport.State) {
	f.Publish(FeedEvent{Type: EventConnectionRemoved, ID: info.ID, State: string(state)})
}

func (f *Feed) HandshakeFinished(status int, elapsed time.Duration) {
	f.Publish(FeedEvent{Type: EventHandshakeFinished, Status: status, ElapsedMS: elapsed.Milliseconds()})
}
