package bridge

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRetryDelay is how long after the first auth-request the
	// resolver re-sends it once, covering the race where the bridge is
	// not yet listening when the first request goes out.
	DefaultRetryDelay = 250 * time.Millisecond

	// DefaultTimeout is the final fallback bound: with no valid response
	// by then, the state resolves to signed-out instead of hanging.
	DefaultTimeout = 3 * time.Second
)

// Conn is one side of a window-to-window style message channel. Receive's
// channel is closed when the peer goes away.
type Conn interface {
	Send(Message) error
	Receive() <-chan Envelope
}

// Resolver drives the consumer half of the auth handshake. The state
// machine is unknown -> {signed-in | signed-out | error}, terminal once
// resolved; a fresh resolution needs a fresh Resolver over a fresh Conn.
type Resolver struct {
	conn         Conn
	bridgeOrigin string
	retryDelay   time.Duration
	timeout      time.Duration

	mu       sync.Mutex
	resolved bool
	state    AuthState
}

// NewResolver creates a Resolver that only accepts messages declaring
// bridgeOrigin as their origin.
func NewResolver(conn Conn, bridgeOrigin string) *Resolver {
	return &Resolver{
		conn:         conn,
		bridgeOrigin: bridgeOrigin,
		retryDelay:   DefaultRetryDelay,
		timeout:      DefaultTimeout,
		state:        AuthState{Status: StatusUnknown},
	}
}

// SetTimeouts overrides the retry and fallback windows; zero values keep
// the defaults. Used by tests and embedded contexts with tighter budgets.
func (r *Resolver) SetTimeouts(retry, timeout time.Duration) {
	if retry > 0 {
		r.retryDelay = retry
	}
	if timeout > 0 {
		r.timeout = timeout
	}
}

// State returns the current (possibly still unknown) auth state.
func (r *Resolver) State() AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Resolve runs the handshake to completion and returns the resolved state.
// It never returns an error: every failure path degrades to signed-out.
// Subsequent calls return the already-resolved state.
func (r *Resolver) Resolve(ctx context.Context) AuthState {
	r.mu.Lock()
	if r.resolved {
		state := r.state
		r.mu.Unlock()
		return state
	}
	r.mu.Unlock()

	state := r.handshake(ctx)

	r.mu.Lock()
	if !r.resolved {
		r.resolved = true
		r.state = state
	}
	state = r.state
	r.mu.Unlock()
	return state
}

func (r *Resolver) handshake(ctx context.Context) AuthState {
	// Send failures are not fatal: the retry or the timeout decides.
	_ = r.conn.Send(Message{Type: TypeAuthRequest})

	retry := time.NewTimer(r.retryDelay)
	defer retry.Stop()
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()

	for {
		select {
		case env, ok := <-r.conn.Receive():
			if !ok {
				// Bridge went away before answering.
				return AuthState{Status: StatusSignedOut}
			}
			if env.Origin != r.bridgeOrigin {
				continue
			}
			if env.Message.Type != TypeAuthState {
				continue
			}
			return acceptState(env.Message)
		case <-retry.C:
			_ = r.conn.Send(Message{Type: TypeAuthRequest})
		case <-deadline.C:
			return AuthState{Status: StatusSignedOut}
		case <-ctx.Done():
			return AuthState{Status: StatusSignedOut}
		}
	}
}

// acceptState normalizes an auth-state message, mapping anything outside
// the defined statuses to error rather than trusting the peer verbatim.
func acceptState(m Message) AuthState {
	switch m.Status {
	case StatusSignedIn:
		return AuthState{Status: StatusSignedIn, User: m.User}
	case StatusSignedOut:
		return AuthState{Status: StatusSignedOut}
	case StatusError:
		return AuthState{Status: StatusError}
	default:
		return AuthState{Status: StatusError}
	}
}
