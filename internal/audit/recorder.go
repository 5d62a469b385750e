package audit

import (
	"sync"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

const queueSize = 256

type op func(*SessionStore) error

// Recorder writes connection lifecycle events to a SessionStore from a
// single background goroutine. Events are dropped when the queue is full.
type Recorder struct {
	store  *SessionStore
	logger *logrus.Logger

	ops  chan op
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store *SessionStore, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logger.NewLogger()
	}
	r := &Recorder{
		store:  store,
		logger: log,
		ops:    make(chan op, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for o := range r.ops {
		if err := o(r.store); err != nil {
			r.logger.Warnf("Failed to write session: %v", err)
		}
	}
}

func (r *Recorder) enqueue(o op) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ops <- o:
	default:
		r.logger.Warn("Audit queue full, dropping event")
	}
}

func (r *Recorder) ConnectionCreated(info connection.Info) {
	r.enqueue(func(s *SessionStore) error {
		return s.CreateSession(info.ID, info.UserData, info.CreatedAt)
	})
}

func (r *Recorder) ConnectionRemoved(info connection.Info, state transport.State) {
	at := time.Now()
	r.enqueue(func(s *SessionStore) error {
		return s.CloseSession(info.ID, string(state), at)
	})
}

func (r *Recorder) ChannelReady(connection.Info) {}

func (r *Recorder) HandshakeFinished(int, time.Duration) {}

// Close flushes pending writes.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ops)
	r.mu.Unlock()
	<-r.done
}
