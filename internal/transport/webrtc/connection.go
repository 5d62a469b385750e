package webrtc

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

type peer struct {
	id     string
	pc     *webrtc.PeerConnection
	logger *logrus.Entry

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	dc *webrtc.DataChannel

	maxMessageSize atomic.Int64
}

// defaultMaxMessageSize applies when the remote description does not
// advertise a=max-message-size (RFC 8841).
const defaultMaxMessageSize = 65536

func newPeer(id string, pc *webrtc.PeerConnection, log *logrus.Entry) *peer {
	p := &peer{
		id:     id,
		pc:     pc,
		logger: log,
		events: make(chan transport.Event, eventBuffer),
		done:   make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debugf("Peer connection state has changed: %s", s.String())
		p.emit(transport.StateEvent(convertState(s)))
	})

	pc.OnICEGatheringStateChange(func(s webrtc.ICEGathererState) {
		p.emit(transport.GatheringEvent(convertGathering(s)))
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.emit(transport.CandidateEvent(convertCandidate(c)))
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.Debugf("Ignoring remote data channel '%s'", dc.Label())
	})

	return p
}

func (p *peer) emit(ev transport.Event) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *peer) Events() <-chan transport.Event {
	return p.events
}

// CreateDataChannel opens the server-side channel and starts offer
// generation in the background. The offer arrives later as an
// EventLocalDescription.
func (p *peer) CreateDataChannel(label string, init transport.ChannelInit) (transport.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, DataChannelInit(init))
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	go p.negotiate()

	return &dataChannel{dc: dc}, nil
}

func (p *peer) negotiate() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.logger.Warnf("Failed to create offer: %v", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.logger.Warnf("Failed to set local description: %v", err)
		return
	}

	desc := p.pc.LocalDescription()
	if desc == nil {
		desc = &offer
	}
	p.emit(transport.DescriptionEvent(transport.SessionDescription{
		SDP:  desc.SDP,
		Type: desc.Type.String(),
	}))
}

func (p *peer) SetRemoteDescription(desc transport.SessionDescription) error {
	sdpType := webrtc.NewSDPType(desc.Type)
	if sdpType == webrtc.SDPType(webrtc.Unknown) {
		return fmt.Errorf("invalid session description type %q", desc.Type)
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	p.maxMessageSize.Store(int64(remoteMaxMessageSize(desc.SDP)))
	return nil
}

// remoteMaxMessageSize reads a=max-message-size from the application media
// section. Zero means the remote accepts messages of any size.
func remoteMaxMessageSize(raw string) int {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return defaultMaxMessageSize
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "application" {
			continue
		}
		v, ok := m.Attribute("max-message-size")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return defaultMaxMessageSize
		}
		return n
	}
	return defaultMaxMessageSize
}

func (p *peer) AddICECandidate(c transport.Candidate) error {
	if err := p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// MaxMessageSize is the remote's advertised limit, or 0 before a remote
// description has been applied.
func (p *peer) MaxMessageSize() int {
	return int(p.maxMessageSize.Load())
}

func (p *peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)

		p.mu.Lock()
		dc := p.dc
		p.mu.Unlock()

		if dc != nil {
			_ = dc.Close()
		}
		err = p.pc.Close()
	})
	return err
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string {
	return d.dc.Label()
}

func (d *dataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *dataChannel) SendText(text string) error {
	return d.dc.SendText(text)
}

func (d *dataChannel) OnOpen(f func()) {
	d.dc.OnOpen(f)
}

func (d *dataChannel) OnClose(f func()) {
	d.dc.OnClose(f)
}

func (d *dataChannel) OnMessage(f func(transport.Message)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(transport.Message{Data: msg.Data, IsString: msg.IsString})
	})
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}

var (
	_ transport.Peer        = (*peer)(nil)
	_ transport.DataChannel = (*dataChannel)(nil)
)
