// Package auth gates signaling requests behind a pluggable authorization
// policy and normalizes whatever the policy returns into a Result.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rudransh-shrivastava/geckos/internal/logger"
	"github.com/sirupsen/logrus"
)

var (
	ErrMisconfigured = errors.New("authorization policy is not callable")
	ErrPolicyPanic   = errors.New("authorization policy panicked")
)

// RequestContext is handed to the policy untouched.
type RequestContext struct {
	Request  *http.Request
	Response http.ResponseWriter
}

// Func is a policy. It returns true, false, an HTTP status in [100,600),
// or any other value which becomes the connection's user data.
type Func func(ctx context.Context, credential string, rc RequestContext) (any, error)

// Authorizer is the interface form of Func.
type Authorizer interface {
	Authorize(ctx context.Context, credential string, rc RequestContext) (any, error)
}

type Outcome int

const (
	Allowed Outcome = iota
	Denied
	Misconfigured
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Misconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// Result is the normalized authorization decision.
// Status is set for Denied and Misconfigured, UserData for Allowed.
type Result struct {
	Outcome  Outcome
	Status   int
	UserData any
	Err      error
}

func (r Result) Allowed() bool {
	return r.Outcome == Allowed
}

type Gate struct {
	policy Func
	err    error
	logger *logrus.Logger
}

// NewGate wraps policy, which may be nil, a Func, a function with Func's
// signature, or an Authorizer. Any other value yields a gate that rejects
// every request with 500.
func NewGate(policy any, log *logrus.Logger) *Gate {
	if log == nil {
		log = logger.NewLogger()
	}

	g := &Gate{logger: log}
	switch p := policy.(type) {
	case nil:
	case Func:
		g.policy = p
	case func(context.Context, string, RequestContext) (any, error):
		g.policy = p
	case Authorizer:
		g.policy = p.Authorize
	default:
		g.err = ErrMisconfigured
	}
	return g
}

// Authorize runs the policy and blocks until it returns.
func (g *Gate) Authorize(ctx context.Context, credential string, rc RequestContext) Result {
	if g.err != nil {
		g.logger.Warn("Authorization is not a function, rejecting request")
		return Result{Outcome: Misconfigured, Status: http.StatusInternalServerError, Err: g.err}
	}
	if g.policy == nil {
		return Result{Outcome: Allowed}
	}

	v, err := g.call(ctx, credential, rc)
	if err != nil {
		g.logger.Warnf("Authorization policy failed: %v", err)
		return Result{Outcome: Denied, Status: http.StatusInternalServerError, Err: err}
	}
	return Normalize(v)
}

// call runs the policy, turning a panic into an error.
func (g *Gate) call(ctx context.Context, credential string, rc RequestContext) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrPolicyPanic, r)
		}
	}()
	return g.policy(ctx, credential, rc)
}

// Normalize maps a policy's return value onto a Result.
func Normalize(v any) Result {
	if b, ok := v.(bool); ok {
		if b {
			return Result{Outcome: Allowed}
		}
		return Result{Outcome: Denied, Status: http.StatusUnauthorized}
	}

	if status, ok := asStatus(v); ok {
		return Result{Outcome: Denied, Status: status}
	}

	return Result{Outcome: Allowed, UserData: v}
}

// asStatus reports whether v is an integral number in [100,600).
func asStatus(v any) (int, bool) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int8:
		n = float64(x)
	case int16:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint8:
		n = float64(x)
	case uint16:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case float32:
		n = float64(x)
	case float64:
		n = x
	default:
		return 0, false
	}

	if n != math.Trunc(n) || n < 100 || n >= 600 {
		return 0, false
	}
	return int(n), true
}

// TokenPolicy allows requests whose credential matches one of tokens,
// with or without a "Bearer " prefix. It returns nil for an empty list.
func TokenPolicy(tokens []string) Func {
	if len(tokens) == 0 {
		return nil
	}
	allowed := append([]string(nil), tokens...)

	return func(_ context.Context, credential string, _ RequestContext) (any, error) {
		credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
		if credential == "" {
			return false, nil
		}
		for _, token := range allowed {
			if subtle.ConstantTimeCompare([]byte(credential), []byte(token)) == 1 {
				return true, nil
			}
		}
		return false, nil
	}
}
