// Package manager orchestrates the signaling handshake: it authorizes the
// request, creates and registers the connection, opens its data channel and
// waits for the local description.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/auth"
	"github.com/rudransh-shrivastava/geckos/internal/channel"
	"github.com/rudransh-shrivastava/geckos/internal/config"
	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrTransportInit  = errors.New("failed to create transport")
	ErrChannelTimeout = errors.New("channel setup timeout")
	ErrNotFound       = errors.New("connection not found")
)

type Options struct {
	Engine   transport.Engine
	WebRTC   config.WebRTC
	Timeouts config.Timeouts
	// Authorization is nil, an auth.Func, a func with the same signature or
	// an auth.Authorizer. Anything else rejects every request with 500.
	Authorization any
	Logger        *logrus.Logger
	Observers     []Observer
	// OnConnection is called when a connection's data channel opens.
	OnConnection func(*channel.Channel)
	// Registry is created when nil.
	Registry *connection.Registry
}

type Manager struct {
	engine       transport.Engine
	webrtc       config.WebRTC
	timeouts     config.Timeouts
	gate         *auth.Gate
	registry     *connection.Registry
	allocator    *connection.Allocator
	reaper       *Reaper
	observers    observers
	onConnection func(*channel.Channel)
	logger       *logrus.Logger
}

// Result describes the outcome of one CreateConnection call.
type Result struct {
	Status           int
	UserData         any
	ID               string
	LocalDescription *transport.SessionDescription
}

func New(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("manager: engine is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	registry := opts.Registry
	if registry == nil {
		registry = connection.NewRegistry()
	}

	webrtc := opts.WebRTC
	if webrtc.Label == "" {
		webrtc.Label = config.DefaultLabel
	}

	timeouts := opts.Timeouts
	if timeouts.Channel <= 0 {
		timeouts.Channel = config.Default().Timeouts.Channel
	}
	if timeouts.Description == 0 {
		timeouts.Description = config.Default().Timeouts.Description
	}

	return &Manager{
		engine:       opts.Engine,
		webrtc:       webrtc,
		timeouts:     timeouts,
		gate:         auth.NewGate(opts.Authorization, log),
		registry:     registry,
		allocator:    connection.NewAllocator(registry),
		reaper:       NewReaper(registry, log, opts.Observers...),
		observers:    opts.Observers,
		onConnection: opts.OnConnection,
		logger:       log,
	}, nil
}

// CreateConnection runs one signaling handshake. It never returns an error;
// every failure is reported through Result.Status.
func (m *Manager) CreateConnection(ctx context.Context, credential string, rc auth.RequestContext) Result {
	start := time.Now()
	res := m.createConnection(ctx, credential, rc)
	m.observers.handshakeFinished(res.Status, time.Since(start))
	return res
}

func (m *Manager) createConnection(ctx context.Context, credential string, rc auth.RequestContext) Result {
	decision := m.gate.Authorize(ctx, credential, rc)
	if !decision.Allowed() {
		m.logger.Debugf("Authorization %s with status %d", decision.Outcome, decision.Status)
		return Result{Status: decision.Status}
	}
	userData := decision.UserData

	id, err := m.allocator.Allocate()
	if err != nil {
		m.logger.Errorf("Failed to allocate connection id: %v", err)
		return Result{Status: http.StatusInternalServerError, UserData: userData}
	}
	log := m.logger.WithField("connection", id)

	peer, err := m.engine.NewPeer(id, TransportConfig(m.webrtc))
	if err != nil {
		log.Errorf("%v: %v", ErrTransportInit, err)
		return Result{Status: http.StatusInternalServerError, UserData: userData}
	}

	conn := connection.New(id, peer, userData)
	desc := newDescriptionFuture()

	// Start consuming engine events before the connection becomes visible
	// so no state transition is missed.
	go m.watch(conn, desc)

	var insertErr error
	conn.Lifecycle(func() {
		if insertErr = m.registry.Insert(conn); insertErr == nil {
			m.observers.connectionCreated(conn.Info())
		}
	})
	if insertErr != nil {
		log.Warnf("Failed to register connection: %v", insertErr)
		m.reaper.OnTerminalState(conn, transport.StateClosed)
		return Result{Status: http.StatusInternalServerError, UserData: userData}
	}
	log.Info("Connection created")

	dc, err := m.createDataChannel(ctx, peer, ChannelInit(m.webrtc))
	if err != nil {
		// The connection stays registered; its terminal state or an explicit
		// close removes it.
		log.Errorf("Failed to create data channel: %v", err)
		return Result{Status: http.StatusInternalServerError, UserData: userData}
	}

	ch := channel.New(id, dc, channel.Options{
		UserData: userData,
		Logger:   log,
		Close: func() error {
			m.reaper.OnTerminalState(conn, transport.StateClosed)
			return nil
		},
		OnOpen: m.onConnection,
	})
	conn.SetChannel(ch)
	if conn.Terminal() {
		// Torn down while the channel was being created.
		_ = ch.Release(conn.State())
		return Result{Status: http.StatusInternalServerError, UserData: userData}
	}
	if conn.State() == transport.StateConnected {
		ch.SetMaxMessageSize(peer.MaxMessageSize())
	}
	m.observers.channelReady(conn.Info())

	localDescription, ok := desc.wait(ctx, m.timeouts.Description)
	if !ok {
		log.Warn("Local description not ready, responding without it")
	}

	return Result{
		Status:           http.StatusOK,
		UserData:         userData,
		ID:               id,
		LocalDescription: localDescription,
	}
}

// createDataChannel bounds channel creation by the channel timeout. On
// expiry the attempt is abandoned; anything the engine allocated is released
// with the peer.
func (m *Manager) createDataChannel(ctx context.Context, peer transport.Peer, init transport.ChannelInit) (transport.DataChannel, error) {
	type created struct {
		dc  transport.DataChannel
		err error
	}

	done := make(chan created, 1)
	go func() {
		dc, err := peer.CreateDataChannel(m.webrtc.Label, init)
		done <- created{dc: dc, err: err}
	}()

	timer := time.NewTimer(m.timeouts.Channel)
	defer timer.Stop()

	select {
	case c := <-done:
		return c.dc, c.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrChannelTimeout, m.timeouts.Channel)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watch relays engine events for conn until it is torn down.
func (m *Manager) watch(conn *connection.Connection, desc *descriptionFuture) {
	events := conn.Peer().Events()

	var deadline <-chan time.Time
	if m.timeouts.Connect > 0 {
		timer := time.NewTimer(m.timeouts.Connect)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-conn.Done():
			return

		case <-deadline:
			m.logger.WithField("connection", conn.ID()).Warnf("Connection not established within %s", m.timeouts.Connect)
			m.reaper.OnTerminalState(conn, transport.StateFailed)
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			switch ev.Kind {
			case transport.EventStateChange:
				conn.SetState(ev.State)
				if ev.State == transport.StateConnected {
					deadline = nil
					if ch := conn.Channel(); ch != nil {
						ch.SetMaxMessageSize(conn.Peer().MaxMessageSize())
					}
				}
				if ev.State.Terminal() {
					m.reaper.OnTerminalState(conn, ev.State)
					return
				}

			case transport.EventGatheringStateChange:
				conn.SetGatheringState(ev.Gathering)

			case transport.EventLocalCandidate:
				conn.AddCandidate(ev.Candidate)

			case transport.EventLocalDescription:
				desc.resolve(ev.Description)
			}
		}
	}
}

func (m *Manager) GetConnection(id string) (*connection.Connection, bool) {
	return m.registry.Get(id)
}

func (m *Manager) Connections() []*connection.Connection {
	return m.registry.Snapshot()
}

func (m *Manager) Len() int {
	return m.registry.Len()
}

// CloseConnection tears down id as if its transport had closed.
func (m *Manager) CloseConnection(id string) error {
	conn, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	m.reaper.OnTerminalState(conn, transport.StateClosed)
	return nil
}

// ApplyRemoteDescription hands the client's answer to the transport.
func (m *Manager) ApplyRemoteDescription(id string, desc transport.SessionDescription) error {
	conn, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	return conn.Peer().SetRemoteDescription(desc)
}

func (m *Manager) AddRemoteCandidate(id string, cand transport.Candidate) error {
	conn, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	return conn.Peer().AddICECandidate(cand)
}

// AdditionalCandidates returns and clears the candidates gathered since the
// previous call.
func (m *Manager) AdditionalCandidates(id string) ([]transport.Candidate, error) {
	conn, ok := m.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return conn.DrainCandidates(), nil
}

// Close tears down every live connection.
func (m *Manager) Close() {
	for _, conn := range m.registry.Snapshot() {
		m.reaper.OnTerminalState(conn, transport.StateClosed)
	}
}

// Reaper exposes the teardown routine shared with explicit closes.
func (m *Manager) Reaper() *Reaper {
	return m.reaper
}

// ChannelInit derives data channel settings. A packet lifetime takes
// precedence over a retransmit limit.
func ChannelInit(cfg config.WebRTC) transport.ChannelInit {
	init := transport.ChannelInit{Ordered: cfg.Ordered}
	if cfg.MaxPacketLifeTime != nil {
		v := *cfg.MaxPacketLifeTime
		init.MaxPacketLifeTime = &v
	} else if cfg.MaxRetransmits != nil {
		v := *cfg.MaxRetransmits
		init.MaxRetransmits = &v
	}
	return init
}

func TransportConfig(cfg config.WebRTC) transport.Config {
	servers := make([]transport.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, transport.ICEServer{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	policy := transport.PolicyAll
	if cfg.ICETransportPolicy == string(transport.PolicyRelay) {
		policy = transport.PolicyRelay
	}

	out := transport.Config{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		out.PortRange = transport.PortRange{Min: cfg.PortRange.Min, Max: cfg.PortRange.Max}
	}
	return out
}
