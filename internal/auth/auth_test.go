package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func returning(v any) Func {
	return func(context.Context, string, RequestContext) (any, error) {
		return v, nil
	}
}

func TestNoPolicyAllows(t *testing.T) {
	res := NewGate(nil, quietLogger()).Authorize(context.Background(), "", RequestContext{})
	assert.Equal(t, Allowed, res.Outcome)
	assert.Nil(t, res.UserData)
}

func TestNilFuncAllows(t *testing.T) {
	var f Func
	res := NewGate(f, quietLogger()).Authorize(context.Background(), "", RequestContext{})
	assert.True(t, res.Allowed())
}

func TestNotCallableIsMisconfigured(t *testing.T) {
	res := NewGate("not a function", quietLogger()).Authorize(context.Background(), "token", RequestContext{})
	assert.Equal(t, Misconfigured, res.Outcome)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.ErrorIs(t, res.Err, ErrMisconfigured)
}

func TestPolicyResults(t *testing.T) {
	type user struct{ Name string }

	tests := []struct {
		name     string
		value    any
		outcome  Outcome
		status   int
		userData any
	}{
		{"true", true, Allowed, 0, nil},
		{"false", false, Denied, http.StatusUnauthorized, nil},
		{"forbidden", 403, Denied, http.StatusForbidden, nil},
		{"too many requests", 429, Denied, http.StatusTooManyRequests, nil},
		{"lower bound", 100, Denied, 100, nil},
		{"float status", 418.0, Denied, 418, nil},
		{"uint status", uint16(451), Denied, 451, nil},
		{"upper bound is exclusive", 600, Allowed, 0, 600},
		{"below range", 42, Allowed, 0, 42},
		{"fractional", 403.5, Allowed, 0, 403.5},
		{"struct", user{Name: "yandeu"}, Allowed, 0, user{Name: "yandeu"}},
		{"map", map[string]any{"level": 3}, Allowed, 0, map[string]any{"level": 3}},
		{"string", "player-1", Allowed, 0, "player-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewGate(returning(tt.value), quietLogger()).Authorize(context.Background(), "x", RequestContext{})
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.userData, res.UserData)
		})
	}
}

func TestPolicyReceivesCredentialAndRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "/.wrtc/v2/connections", nil)
	require.NoError(t, err)

	var gotCredential string
	var gotRequest *http.Request
	policy := func(_ context.Context, credential string, rc RequestContext) (any, error) {
		gotCredential = credential
		gotRequest = rc.Request
		return true, nil
	}

	res := NewGate(policy, quietLogger()).Authorize(context.Background(), "abc", RequestContext{Request: req})
	assert.True(t, res.Allowed())
	assert.Equal(t, "abc", gotCredential)
	assert.Same(t, req, gotRequest)
}

type staticAuthorizer struct{ v any }

func (s staticAuthorizer) Authorize(context.Context, string, RequestContext) (any, error) {
	return s.v, nil
}

func TestAuthorizerInterface(t *testing.T) {
	res := NewGate(staticAuthorizer{v: 429}, quietLogger()).Authorize(context.Background(), "", RequestContext{})
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, 429, res.Status)
}

func TestPolicyErrorFailsClosed(t *testing.T) {
	policy := Func(func(context.Context, string, RequestContext) (any, error) {
		return nil, errors.New("identity provider down")
	})

	res := NewGate(policy, quietLogger()).Authorize(context.Background(), "", RequestContext{})
	assert.False(t, res.Allowed())
	assert.Equal(t, http.StatusInternalServerError, res.Status)
}

func TestPolicyPanicFailsClosed(t *testing.T) {
	policy := Func(func(context.Context, string, RequestContext) (any, error) {
		panic("nil session")
	})

	var res Result
	require.NotPanics(t, func() {
		res = NewGate(policy, quietLogger()).Authorize(context.Background(), "", RequestContext{})
	})
	assert.False(t, res.Allowed())
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.ErrorIs(t, res.Err, ErrPolicyPanic)
}

func TestTokenPolicy(t *testing.T) {
	assert.Nil(t, TokenPolicy(nil))

	gate := NewGate(TokenPolicy([]string{"alpha", "beta"}), quietLogger())
	ctx := context.Background()

	assert.True(t, gate.Authorize(ctx, "alpha", RequestContext{}).Allowed())
	assert.True(t, gate.Authorize(ctx, "Bearer beta", RequestContext{}).Allowed())

	denied := gate.Authorize(ctx, "gamma", RequestContext{})
	assert.Equal(t, http.StatusUnauthorized, denied.Status)

	empty := gate.Authorize(ctx, "", RequestContext{})
	assert.Equal(t, http.StatusUnauthorized, empty.Status)
}
