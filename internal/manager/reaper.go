package manager

import (
	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

// Reaper tears down connections whose transport reached a terminal state.
type Reaper struct {
	registry  *connection.Registry
	observers observers
	logger    *logrus.Logger
}

func NewReaper(registry *connection.Registry, log *logrus.Logger, obs ...Observer) *Reaper {
	return &Reaper{registry: registry, observers: obs, logger: log}
}

// OnTerminalState removes conn from the registry and releases its resources.
// Non-terminal states are ignored and repeated calls are no-ops.
func (r *Reaper) OnTerminalState(conn *connection.Connection, state transport.State) {
	if !state.Terminal() {
		return
	}
	if !conn.MarkTerminal(state) {
		return
	}

	log := r.logger.WithFields(logrus.Fields{"connection": conn.ID(), "state": state})

	var removed bool
	conn.Lifecycle(func() {
		removed = r.registry.Remove(conn.ID(), conn)
	})
	if err := conn.Release(); err != nil {
		log.Warnf("Failed to close connection: %v", err)
	}

	if removed {
		log.Info("Connection removed")
		r.observers.connectionRemoved(conn.Info(), state)
	} else {
		log.Debug("Connection torn down before registration")
	}
}
