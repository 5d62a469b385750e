package connection

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rudransh-shrivastava/geckos/internal/channel"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/rudransh-shrivastava/geckos/internal/transport/transporttest"
)

func newTestConnection(t *testing.T, id string) (*Connection, *transporttest.Peer) {
	t.Helper()
	engine := &transporttest.Engine{}
	p, err := engine.NewPeer(id, transport.Config{})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	return New(id, p, nil), engine.LastPeer()
}

func TestAllocateLength(t *testing.T) {
	a := NewAllocator(NewRegistry())
	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(id) != IDLength {
		t.Errorf("expected length %d, got %d", IDLength, len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune(idAlphabet, r) {
			t.Errorf("unexpected character %q in %s", r, id)
		}
	}
}

func TestAllocateSkipsCollision(t *testing.T) {
	reg := NewRegistry()
	taken, _ := newTestConnection(t, strings.Repeat("A", IDLength))
	if err := reg.Insert(taken); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// 24 zero bytes produce "AAA...", the next 24 ones produce "BBB...".
	source := bytes.NewReader(append(make([]byte, IDLength), bytes.Repeat([]byte{1}, IDLength)...))
	a := NewAllocatorWithSource(reg, source)

	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if id != strings.Repeat("B", IDLength) {
		t.Errorf("expected regenerated id, got %s", id)
	}
}

func TestAllocateConcurrentUnique(t *testing.T) {
	reg := NewRegistry()
	a := NewAllocator(reg)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Allocate()
			if err != nil {
				errs <- err
				return
			}
			conn := New(id, nil, nil)
			if err := reg.Insert(conn); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if reg.Len() != 200 {
		t.Errorf("expected 200 connections, got %d", reg.Len())
	}
}

func TestRegistryInsertDuplicate(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestConnection(t, "same")
	b, _ := newTestConnection(t, "same")

	if err := reg.Insert(a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := reg.Insert(b); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
	got, ok := reg.Get("same")
	if !ok || got != a {
		t.Error("expected first connection to stay registered")
	}
}

func TestRegistryRejectsTerminal(t *testing.T) {
	reg := NewRegistry()
	conn, _ := newTestConnection(t, "dead")
	conn.MarkTerminal(transport.StateFailed)

	if err := reg.Insert(conn); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if reg.Len() != 0 {
		t.Error("expected empty registry")
	}
}

func TestRegistryRemoveComparesIdentity(t *testing.T) {
	reg := NewRegistry()
	a, _ := newTestConnection(t, "id")
	b, _ := newTestConnection(t, "id")
	_ = reg.Insert(a)

	if reg.Remove("id", b) {
		t.Error("Remove should not delete a different connection")
	}
	if !reg.Remove("id", a) {
		t.Error("expected Remove to succeed")
	}
	if reg.Remove("id", a) {
		t.Error("second Remove should report false")
	}
}

func TestCandidatesOrderAndDrain(t *testing.T) {
	conn, _ := newTestConnection(t, "c")

	conn.AddCandidate(transport.Candidate{Candidate: "one"})
	conn.AddCandidate(transport.Candidate{Candidate: "two"})
	conn.AddCandidate(transport.Candidate{Candidate: "two"})

	snapshot := conn.AdditionalCandidates()
	if len(snapshot) != 3 || snapshot[0].Candidate != "one" || snapshot[2].Candidate != "two" {
		t.Errorf("unexpected candidates %+v", snapshot)
	}

	drained := conn.DrainCandidates()
	if len(drained) != 3 {
		t.Errorf("expected 3 drained, got %d", len(drained))
	}
	if rest := conn.DrainCandidates(); len(rest) != 0 {
		t.Errorf("expected no candidates after drain, got %d", len(rest))
	}
}

func TestMarkTerminalOnce(t *testing.T) {
	conn, _ := newTestConnection(t, "t")

	if !conn.MarkTerminal(transport.StateFailed) {
		t.Fatal("first MarkTerminal should succeed")
	}
	if conn.MarkTerminal(transport.StateClosed) {
		t.Error("second MarkTerminal should report false")
	}
	if conn.State() != transport.StateFailed {
		t.Errorf("expected failed state, got %s", conn.State())
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed")
	}

	conn.SetState(transport.StateConnected)
	if conn.State() != transport.StateFailed {
		t.Error("terminal state must be absorbing")
	}
}

func TestReleaseClosesChannelAndPeer(t *testing.T) {
	conn, peer := newTestConnection(t, "r")
	dc := transporttest.NewDataChannel("geckos.io")
	ch := channel.New(conn.ID(), dc, channel.Options{})
	conn.SetChannel(ch)

	var reason transport.State
	ch.OnDisconnect(func(s transport.State) { reason = s })

	conn.MarkTerminal(transport.StateDisconnected)
	if err := conn.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if !peer.Closed() {
		t.Error("expected peer to be closed")
	}
	if !dc.IsClosed() {
		t.Error("expected data channel to be closed")
	}
	if reason != transport.StateDisconnected {
		t.Errorf("expected disconnected, got %s", reason)
	}
}
