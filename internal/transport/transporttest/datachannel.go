package transporttest

import (
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

var ErrChannelClosed = errors.New("transporttest: data channel closed")

// DataChannel records outgoing messages and lets the test inject incoming
// ones.
type DataChannel struct {
	label string

	mu        sync.Mutex
	sent      []transport.Message
	closed    bool
	onOpen    func()
	onClose   func()
	onMessage func(transport.Message)
}

func NewDataChannel(label string) *DataChannel {
	return &DataChannel{label: label}
}

func (d *DataChannel) Label() string {
	return d.label
}

func (d *DataChannel) Send(data []byte) error {
	return d.record(transport.Message{Data: append([]byte(nil), data...)})
}

func (d *DataChannel) SendText(text string) error {
	return d.record(transport.Message{Data: []byte(text), IsString: true})
}

func (d *DataChannel) record(msg transport.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrChannelClosed
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *DataChannel) OnOpen(f func()) {
	d.mu.Lock()
	d.onOpen = f
	d.mu.Unlock()
}

func (d *DataChannel) OnClose(f func()) {
	d.mu.Lock()
	d.onClose = f
	d.mu.Unlock()
}

func (d *DataChannel) OnMessage(f func(transport.Message)) {
	d.mu.Lock()
	d.onMessage = f
	d.mu.Unlock()
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	onClose := d.onClose
	d.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Open fires the open handler.
func (d *DataChannel) Open() {
	d.mu.Lock()
	f := d.onOpen
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

// Deliver fires the message handler as if msg arrived from the remote peer.
func (d *DataChannel) Deliver(msg transport.Message) {
	d.mu.Lock()
	f := d.onMessage
	d.mu.Unlock()
	if f != nil {
		f(msg)
	}
}

func (d *DataChannel) Sent() []transport.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Message(nil), d.sent...)
}

func (d *DataChannel) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var _ transport.DataChannel = (*DataChannel)(nil)
