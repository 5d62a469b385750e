package manager

import (
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

// Observer receives connection lifecycle events. Calls are synchronous and
// must not block.
type Observer interface {
	ConnectionCreated(info connection.Info)
	ChannelReady(info connection.Info)
	ConnectionRemoved(info connection.Info, state transport.State)
	HandshakeFinished(status int, elapsed time.Duration)
}

// NopObserver can be embedded to implement only some Observer methods.
type NopObserver struct{}

func (NopObserver) ConnectionCreated(connection.Info) {}
func (NopObserver) ChannelReady(connection.Info) {}
func (NopObserver) ConnectionRemoved(connection.Info, transport.State) {}
func (NopObserver) HandshakeFinished(int, time.Duration) {}

type observers []Observer

func (o observers) connectionCreated(info connection.Info) {
	for _, obs := range o {
		obs.ConnectionCreated(info)
	}
}

func (o observers) channelReady(info connection.Info) {
	for _, obs := range o {
		obs.ChannelReady(info)
	}
}

func (o observers) connectionRemoved(info connection.Info, state transport.State) {
	for _, obs := range o {
		obs.ConnectionRemoved(info, state)
	}
}

func (o observers) handshakeFinished(status int, elapsed time.Duration) {
	for _, obs := range o {
		obs.HandshakeFinished(status, elapsed)
	}
}
