// Package transport defines the boundary between the connection orchestrator
// and the engine that performs ICE, DTLS and SCTP for one peer connection.
package transport

import "errors"

var ErrClosed = errors.New("transport closed")

// Engine constructs one Peer per logical connection.
type Engine interface {
	NewPeer(id string, cfg Config) (Peer, error)
}

// Peer is the engine's handle for a single connection. Lifecycle
// notifications are delivered on Events in the order the engine emits them.
// After Close no further events are delivered.
type Peer interface {
	Events() <-chan Event
	CreateDataChannel(label string, init ChannelInit) (DataChannel, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(c Candidate) error
	// MaxMessageSize is the remote's advertised message size limit, 0 if unknown
	// or unlimited.
	MaxMessageSize() int
	Close() error
}

// DataChannel is a bidirectional message stream on top of a Peer.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	SendText(text string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(Message))
	Close() error
}

type Message struct {
	Data     []byte
	IsString bool
}

type Config struct {
	ICEServers         []ICEServer
	ICETransportPolicy Policy
	PortRange          PortRange
}

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type Policy string

const (
	PolicyAll   Policy = "all"
	PolicyRelay Policy = "relay"
)

// PortRange restricts the local UDP ports used for host candidates.
type PortRange struct {
	Min uint16
	Max uint16
}

// Valid reports whether both bounds are set. A half-specified range is ignored.
func (r PortRange) Valid() bool {
	return r.Min > 0 && r.Max > 0
}

// ChannelInit configures delivery semantics of a data channel.
// MaxPacketLifeTime and MaxRetransmits are mutually exclusive.
type ChannelInit struct {
	Ordered           bool
	MaxPacketLifeTime *uint16
	MaxRetransmits    *uint16
}

type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Candidate mirrors RTCIceCandidateInit on the wire.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
