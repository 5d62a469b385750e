// Package webrtc implements transport.Engine on top of pion/webrtc.
package webrtc

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

// eventBuffer bounds how far the engine may run ahead of the consumer
// before its callbacks block.
const eventBuffer = 64

type Engine struct {
	logger *logrus.Logger
}

// New creates a pion-backed engine. A nil logger falls back to the default.
func New(log *logrus.Logger) *Engine {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Engine{logger: log}
}

func (e *Engine) NewPeer(id string, cfg transport.Config) (transport.Peer, error) {
	settings := webrtc.SettingEngine{}
	if cfg.PortRange.Valid() {
		if err := settings.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	pc, err := api.NewPeerConnection(Configuration(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return newPeer(id, pc, e.logger.WithField("connection", id)), nil
}

// Configuration converts the engine-neutral config into pion's.
func Configuration(cfg transport.Config) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, server := range cfg.ICEServers {
		s := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			s.Username = server.Username
			s.Credential = server.Credential
			s.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, s)
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ICETransportPolicy == transport.PolicyRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// DataChannelInit converts channel settings into pion's init struct.
func DataChannelInit(init transport.ChannelInit) *webrtc.DataChannelInit {
	ordered := init.Ordered
	dcInit := &webrtc.DataChannelInit{Ordered: &ordered}
	switch {
	case init.MaxPacketLifeTime != nil:
		v := *init.MaxPacketLifeTime
		dcInit.MaxPacketLifeTime = &v
	case init.MaxRetransmits != nil:
		v := *init.MaxRetransmits
		dcInit.MaxRetransmits = &v
	}
	return dcInit
}

func convertState(s webrtc.PeerConnectionState) transport.State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return transport.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return transport.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return transport.StateClosed
	default:
		return transport.StateNew
	}
}

func convertGathering(s webrtc.ICEGathererState) transport.GatheringState {
	switch s {
	case webrtc.ICEGathererStateGathering:
		return transport.GatheringActive
	case webrtc.ICEGathererStateComplete:
		return transport.GatheringComplete
	default:
		return transport.GatheringNew
	}
}

func convertCandidate(c *webrtc.ICECandidate) transport.Candidate {
	init := c.ToJSON()
	return transport.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

var _ transport.Engine = (*Engine)(nil)
