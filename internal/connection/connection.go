// Package connection holds the live connection objects and the registry
// that tracks them.
package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/channel"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

// Connection is one peer session: a transport handle and, once negotiated,
// its data channel.
type Connection struct {
	id        string
	userData  any
	peer      transport.Peer
	createdAt time.Time

	done chan struct{}

	lifecycle sync.Mutex

	mu         sync.Mutex
	channel    *channel.Channel
	candidates []transport.Candidate
	state      transport.State
	gathering  transport.GatheringState
	terminal   bool
	endState   transport.State
}

func New(id string, peer transport.Peer, userData any) *Connection {
	return &Connection{
		id:        id,
		userData:  userData,
		peer:      peer,
		createdAt: time.Now(),
		done:      make(chan struct{}),
		state:     transport.StateNew,
		gathering: transport.GatheringNew,
	}
}

// Lifecycle runs f under the connection's lifecycle lock. Registration and
// removal both go through it so their notifications cannot interleave.
func (c *Connection) Lifecycle(f func()) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	f()
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserData() any {
	return c.userData
}

func (c *Connection) Peer() transport.Peer {
	return c.peer
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// Done is closed when the connection is marked terminal.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Channel() *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *Connection) SetChannel(ch *channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = ch
}

func (c *Connection) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) SetState(s transport.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return
	}
	c.state = s
}

func (c *Connection) GatheringState() transport.GatheringState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gathering
}

func (c *Connection) SetGatheringState(s transport.GatheringState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gathering = s
}

// AddCandidate appends a locally discovered candidate for trickle delivery.
func (c *Connection) AddCandidate(cand transport.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
}

// AdditionalCandidates returns the pending candidates in discovery order.
func (c *Connection) AdditionalCandidates() []transport.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Candidate{}, c.candidates...)
}

// DrainCandidates returns the pending candidates and clears them.
func (c *Connection) DrainCandidates() []transport.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.candidates
	c.candidates = nil
	if out == nil {
		out = []transport.Candidate{}
	}
	return out
}

// MarkTerminal flags the connection as torn down. Only the first call
// returns true.
func (c *Connection) MarkTerminal(state transport.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return false
	}
	c.terminal = true
	c.endState = state
	c.state = state
	close(c.done)
	return true
}

func (c *Connection) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Release closes the data channel and the transport handle. It must only be
// called after MarkTerminal and removal from the registry.
func (c *Connection) Release() error {
	c.mu.Lock()
	ch := c.channel
	state := c.endState
	c.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Release(state); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.peer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Info is the immutable description of a connection handed to observers.
type Info struct {
	ID        string
	UserData  any
	CreatedAt time.Time
}

func (c *Connection) Info() Info {
	return Info{ID: c.id, UserData: c.userData, CreatedAt: c.createdAt}
}
