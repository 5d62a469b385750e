// Package channel wraps a negotiated data channel with geckos-style
// event framing: text frames carry {"<event>": data} JSON, binary frames
// are raw messages.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrMessageTooLarge = errors.New("message exceeds max message size")
	ErrInvalidFrame    = errors.New("invalid event frame")
)

type EventHandler func(data json.RawMessage)

type RawHandler func(data []byte)

type DisconnectHandler func(state transport.State)

type Options struct {
	UserData any
	Logger   *logrus.Entry
	// Close tears down the owning connection.
	Close func() error
	// OnOpen is called once the data channel opens.
	OnOpen func(*Channel)
}

type Channel struct {
	id       string
	userData any
	dc       transport.DataChannel
	logger   *logrus.Entry
	closer   func() error

	maxMessageSize atomic.Int64

	mu           sync.Mutex
	handlers     map[string][]EventHandler
	rawHandlers  []RawHandler
	onDisconnect []DisconnectHandler
	disconnected bool
}

func New(id string, dc transport.DataChannel, opts Options) *Channel {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger().WithField("connection", id)
	}

	c := &Channel{
		id:       id,
		userData: opts.UserData,
		dc:       dc,
		logger:   log,
		closer:   opts.Close,
		handlers: make(map[string][]EventHandler),
	}

	dc.OnOpen(func() {
		c.logger.Debugf("Data channel '%s' open", dc.Label())
		if opts.OnOpen != nil {
			opts.OnOpen(c)
		}
	})

	dc.OnClose(func() {
		c.logger.Debugf("Data channel '%s' closed", dc.Label())
	})

	dc.OnMessage(c.handleMessage)

	return c
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) UserData() any {
	return c.userData
}

// MaxMessageSize is the negotiated limit, 0 until the connection is up.
func (c *Channel) MaxMessageSize() int {
	return int(c.maxMessageSize.Load())
}

func (c *Channel) SetMaxMessageSize(n int) {
	c.maxMessageSize.Store(int64(n))
}

// Emit sends data to the remote peer under event.
func (c *Channel) Emit(event string, data any) error {
	frame, err := json.Marshal(map[string]any{event: data})
	if err != nil {
		return fmt.Errorf("failed to encode event %q: %w", event, err)
	}
	if err := c.checkSize(len(frame)); err != nil {
		return err
	}
	return c.dc.SendText(string(frame))
}

// SendRaw sends a binary frame.
func (c *Channel) SendRaw(data []byte) error {
	if err := c.checkSize(len(data)); err != nil {
		return err
	}
	return c.dc.Send(data)
}

func (c *Channel) checkSize(n int) error {
	if limit := c.MaxMessageSize(); limit > 0 && n > limit {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, limit)
	}
	return nil
}

func (c *Channel) On(event string, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *Channel) OnRaw(h RawHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawHandlers = append(c.rawHandlers, h)
}

func (c *Channel) OnDisconnect(h DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, h)
}

// Close tears down the whole connection, not just the data channel.
func (c *Channel) Close() error {
	if c.closer == nil {
		return c.dc.Close()
	}
	return c.closer()
}

// Release notifies disconnect handlers once and closes the data channel.
// It is called by the connection during teardown.
func (c *Channel) Release(state transport.State) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	handlers := append([]DisconnectHandler(nil), c.onDisconnect...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
	return c.dc.Close()
}

func (c *Channel) handleMessage(msg transport.Message) {
	if !msg.IsString {
		c.mu.Lock()
		handlers := append([]RawHandler(nil), c.rawHandlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(msg.Data)
		}
		return
	}

	event, data, err := ParseFrame(msg.Data)
	if err != nil {
		c.logger.Warnf("Dropping message: %v", err)
		return
	}

	c.mu.Lock()
	handlers := append([]EventHandler(nil), c.handlers[event]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debugf("No handler for event %q", event)
		return
	}
	for _, h := range handlers {
		h(data)
	}
}

// ParseFrame decodes a text frame holding exactly one event.
func ParseFrame(frame []byte) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: expected one event, got %d", ErrInvalidFrame, len(m))
	}
	for event, data := range m {
		return event, data, nil
	}
	return "", nil, ErrInvalidFrame
}
