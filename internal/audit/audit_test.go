package audit

import (
	"io"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/connection"
	"github.com/rudransh-shrivastava/geckos/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewSessionStore(db)
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	opened := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.CreateSession("abc", map[string]any{"username": "Yannick"}, opened))

	s, err := store.GetSession("abc")
	require.NoError(t, err)
	assert.True(t, s.Open())
	assert.Equal(t, opened.UnixMilli(), s.OpenedAt)
	assert.JSONEq(t, `{"username":"Yannick"}`, s.UserData)

	require.NoError(t, store.CloseSession("abc", "failed", opened.Add(time.Second)))
	s, err = store.GetSession("abc")
	require.NoError(t, err)
	assert.False(t, s.Open())
	assert.Equal(t, "failed", s.EndState)

	// The first end state sticks.
	assert.ErrorIs(t, store.CloseSession("abc", "closed", time.Now()), ErrSessionNotFound)
	s, _ = store.GetSession("abc")
	assert.Equal(t, "failed", s.EndState)
}

func TestGetSessionMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDuplicateSessionRejected(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateSession("dup", nil, time.Now()))
	assert.Error(t, store.CreateSession("dup", nil, time.Now()))
}

func TestRecentSessions(t *testing.T) {
	store := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateSession(id, nil, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, store.CloseSession("a", "closed", base.Add(time.Minute)))

	sessions, err := store.RecentSessions(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ConnectionID)
	assert.Equal(t, "b", sessions[1].ConnectionID)

	all, err := store.RecentSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	open, err := store.CountOpen()
	require.NoError(t, err)
	assert.Equal(t, int64(2), open)
}

func TestUserDataEncoding(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "player-1", `"player-1"`},
		{"number", 1e6, `1000000`},
		{"map", map[string]any{"level": 3.0}, `{"level":3}`},
		{"typed map", map[string]string{"team": "red"}, `{"team":"red"}`},
		{"struct", struct {
			Name string `json:"name"`
		}{"bob"}, `{"name":"bob"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeUserData(tt.in)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.JSONEq(t, tt.want, got)
		})
	}

	decoded, err := DecodeUserData(`{"team":"red"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"team": "red"}, decoded)

	decoded, err = DecodeUserData("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestRecorderWritesLifecycle(t *testing.T) {
	store := newTestStore(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	rec := NewRecorder(store, log)

	info := connection.Info{ID: "conn", UserData: "alice", CreatedAt: time.Now()}
	rec.ConnectionCreated(info)
	rec.ChannelReady(info)
	rec.ConnectionRemoved(info, transport.StateDisconnected)
	rec.HandshakeFinished(200, time.Millisecond)
	rec.Close()

	s, err := store.GetSession("conn")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", s.EndState)
	assert.Equal(t, `"alice"`, s.UserData)

	// Events after Close are ignored.
	rec.ConnectionCreated(connection.Info{ID: "late", CreatedAt: time.Now()})
	rec.Close()
	_, err = store.GetSession("late")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
