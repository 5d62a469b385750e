package webrtc

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestConfiguration(t *testing.T) {
	cfg := Configuration(transport.Config{
		ICEServers: []transport.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "user", Credential: "pass"},
		},
		ICETransportPolicy: transport.PolicyRelay,
	})

	if len(cfg.ICEServers) != 2 {
		t.Fatalf("expected 2 ice servers, got %d", len(cfg.ICEServers))
	}
	if cfg.ICEServers[0].Username != "" {
		t.Error("stun server should carry no credentials")
	}
	turn := cfg.ICEServers[1]
	if turn.Username != "user" || turn.Credential != "pass" || turn.CredentialType != webrtc.ICECredentialTypePassword {
		t.Errorf("unexpected turn server %+v", turn)
	}
	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Errorf("expected relay policy, got %s", cfg.ICETransportPolicy)
	}

	if p := Configuration(transport.Config{}).ICETransportPolicy; p != webrtc.ICETransportPolicyAll {
		t.Errorf("expected all policy by default, got %s", p)
	}
}

func TestDataChannelInit(t *testing.T) {
	life, retransmits := uint16(300), uint16(2)

	init := DataChannelInit(transport.ChannelInit{Ordered: true, MaxPacketLifeTime: &life, MaxRetransmits: &retransmits})
	if init.Ordered == nil || !*init.Ordered {
		t.Error("expected ordered channel")
	}
	if init.MaxPacketLifeTime == nil || *init.MaxPacketLifeTime != 300 {
		t.Error("expected packet lifetime to be set")
	}
	if init.MaxRetransmits != nil {
		t.Error("packet lifetime must win over retransmits")
	}

	init = DataChannelInit(transport.ChannelInit{MaxRetransmits: &retransmits})
	if init.Ordered == nil || *init.Ordered {
		t.Error("expected unordered channel")
	}
	if init.MaxRetransmits == nil || *init.MaxRetransmits != 2 {
		t.Error("expected retransmits to be set")
	}
}

func TestConvertState(t *testing.T) {
	tests := map[webrtc.PeerConnectionState]transport.State{
		webrtc.PeerConnectionStateNew:          transport.StateNew,
		webrtc.PeerConnectionStateConnecting:   transport.StateConnecting,
		webrtc.PeerConnectionStateConnected:    transport.StateConnected,
		webrtc.PeerConnectionStateDisconnected: transport.StateDisconnected,
		webrtc.PeerConnectionStateFailed:       transport.StateFailed,
		webrtc.PeerConnectionStateClosed:       transport.StateClosed,
	}
	for in, want := range tests {
		if got := convertState(in); got != want {
			t.Errorf("convertState(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestNewPeerRejectsBadPortRange(t *testing.T) {
	_, err := New(quietLogger()).NewPeer("bad", transport.Config{
		PortRange: transport.PortRange{Min: 6000, Max: 5000},
	})
	if err == nil {
		t.Error("expected error for inverted port range")
	}
}

func TestPeerProducesOffer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pion peer test in short mode")
	}

	p, err := New(quietLogger()).NewPeer("offer-test", transport.Config{
		PortRange: transport.PortRange{Min: 40000, Max: 40100},
	})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	retransmits := uint16(0)
	dc, err := p.CreateDataChannel("geckos.io", transport.ChannelInit{MaxRetransmits: &retransmits})
	if err != nil {
		t.Fatalf("CreateDataChannel failed: %v", err)
	}
	if dc.Label() != "geckos.io" {
		t.Errorf("unexpected label %q", dc.Label())
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind != transport.EventLocalDescription {
				continue
			}
			if ev.Description.Type != "offer" {
				t.Errorf("expected offer, got %q", ev.Description.Type)
			}
			if !strings.Contains(ev.Description.SDP, "webrtc-datachannel") {
				t.Error("offer should negotiate a data channel")
			}
			return
		case <-timeout:
			t.Fatal("no local description produced")
		}
	}
}

func TestSetRemoteDescriptionRejectsUnknownType(t *testing.T) {
	p, err := New(quietLogger()).NewPeer("sdp-test", transport.Config{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.SetRemoteDescription(transport.SessionDescription{Type: "nonsense", SDP: "v=0"}); err == nil {
		t.Error("expected error for unknown description type")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := New(quietLogger()).NewPeer("close-test", transport.Config{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestRemoteMaxMessageSize(t *testing.T) {
	const header = "v=0\r\n" +
		"o=- 123 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n"
	const application = "m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=sctp-port:5000\r\n"

	tests := []struct {
		name string
		sdp  string
		want int
	}{
		{"advertised", header + application + "a=max-message-size:262144\r\n", 262144},
		{"unlimited", header + application + "a=max-message-size:0\r\n", 0},
		{"missing", header + application, defaultMaxMessageSize},
		{"malformed value", header + application + "a=max-message-size:lots\r\n", defaultMaxMessageSize},
		{"unparseable sdp", "not an sdp", defaultMaxMessageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remoteMaxMessageSize(tt.sdp); got != tt.want {
				t.Errorf("remoteMaxMessageSize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxMessageSizeBeforeRemoteDescription(t *testing.T) {
	p, err := New(quietLogger()).NewPeer("size-test", transport.Config{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	if got := p.MaxMessageSize(); got != 0 {
		t.Errorf("MaxMessageSize = %d before negotiation, want 0", got)
	}
}
