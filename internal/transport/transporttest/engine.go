// Package transporttest provides an in-memory transport.Engine whose peers
// are driven by the test.
package transporttest

import (
	"errors"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

var ErrNewPeer = errors.New("transporttest: peer creation refused")

// Engine hands out fake peers. Behaviour fields are copied into each peer
// at creation time.
type Engine struct {
	// FailNewPeer makes NewPeer return ErrNewPeer.
	FailNewPeer bool
	// BlockChannel makes CreateDataChannel block until the peer is closed.
	BlockChannel bool
	// NoDescription suppresses the local description after channel creation.
	NoDescription bool
	// DescriptionDelay delays the local description.
	DescriptionDelay time.Duration
	// Candidates are emitted, in order, right after channel creation.
	Candidates []transport.Candidate
	// MaxMessage is reported by MaxMessageSize.
	MaxMessage int

	mu      sync.Mutex
	peers   []*Peer
	configs []transport.Config
}

func (e *Engine) NewPeer(id string, cfg transport.Config) (transport.Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.configs = append(e.configs, cfg)
	if e.FailNewPeer {
		return nil, ErrNewPeer
	}

	p := &Peer{
		id:               id,
		events:           make(chan transport.Event, 64),
		done:             make(chan struct{}),
		blockChannel:     e.BlockChannel,
		noDescription:    e.NoDescription,
		descriptionDelay: e.DescriptionDelay,
		candidates:       append([]transport.Candidate(nil), e.Candidates...),
		maxMessage:       e.MaxMessage,
	}
	e.peers = append(e.peers, p)
	return p, nil
}

// Peers returns every peer created so far.
func (e *Engine) Peers() []*Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Peer(nil), e.peers...)
}

// LastPeer returns the most recently created peer, or nil.
func (e *Engine) LastPeer() *Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.peers) == 0 {
		return nil
	}
	return e.peers[len(e.peers)-1]
}

// Configs returns the configs passed to NewPeer, including refused ones.
func (e *Engine) Configs() []transport.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transport.Config(nil), e.configs...)
}

type Peer struct {
	id               string
	events           chan transport.Event
	done             chan struct{}
	closeOnce        sync.Once
	blockChannel     bool
	noDescription    bool
	descriptionDelay time.Duration
	candidates       []transport.Candidate
	maxMessage       int

	mu          sync.Mutex
	closeCalls  int
	channel     *DataChannel
	channelInit transport.ChannelInit
	remote      *transport.SessionDescription
	remoteCands []transport.Candidate
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Events() <-chan transport.Event {
	return p.events
}

// Emit delivers ev unless the peer is closed.
func (p *Peer) Emit(ev transport.Event) {
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

func (p *Peer) CreateDataChannel(label string, init transport.ChannelInit) (transport.DataChannel, error) {
	if p.blockChannel {
		<-p.done
		return nil, transport.ErrClosed
	}

	dc := NewDataChannel(label)
	p.mu.Lock()
	p.channel = dc
	p.channelInit = init
	p.mu.Unlock()

	go func() {
		for _, c := range p.candidates {
			p.Emit(transport.CandidateEvent(c))
		}
		if p.noDescription {
			return
		}
		if p.descriptionDelay > 0 {
			select {
			case <-time.After(p.descriptionDelay):
			case <-p.done:
				return
			}
		}
		p.Emit(transport.DescriptionEvent(transport.SessionDescription{
			SDP:  "v=0\r\no=- " + p.id + " 2 IN IP4 127.0.0.1\r\n",
			Type: "offer",
		}))
	}()

	return dc, nil
}

func (p *Peer) SetRemoteDescription(desc transport.SessionDescription) error {
	if desc.Type != "answer" && desc.Type != "offer" && desc.Type != "pranswer" && desc.Type != "rollback" {
		return errors.New("transporttest: invalid description type")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &desc
	return nil
}

func (p *Peer) AddICECandidate(c transport.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteCands = append(p.remoteCands, c)
	return nil
}

func (p *Peer) MaxMessageSize() int {
	return p.maxMessage
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closeCalls++
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Closed reports whether Close has been called.
func (p *Peer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Peer) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *Peer) Channel() *DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *Peer) ChannelInit() transport.ChannelInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelInit
}

func (p *Peer) RemoteDescription() *transport.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) RemoteCandidates() []transport.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.Candidate(nil), p.remoteCands...)
}

var _ transport.Engine = (*Engine)(nil)
var _ transport.Peer = (*Peer)(nil)
