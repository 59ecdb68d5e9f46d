package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostOrigin = "https://tools.example.com"
	toolOrigin = "null"
)

// answerAuth runs a minimal host side over the pipe: it waits for an
// auth-request and answers with the given state.
func answerAuth(conn Conn, state AuthState) {
	go func() {
		for env := range conn.Receive() {
			if env.Message.Type != TypeAuthRequest {
				continue
			}
			_ = conn.Send(Message{Type: TypeAuthState, Status: state.Status, User: state.User})
			return
		}
	}()
}

func TestResolveSignedIn(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)
	answerAuth(host, AuthState{Status: StatusSignedIn, User: &User{ID: "u1", Email: "ada@example.com"}})

	r := NewResolver(consumer, hostOrigin)
	state := r.Resolve(context.Background())

	assert.Equal(t, StatusSignedIn, state.Status)
	require.NotNil(t, state.User)
	assert.Equal(t, "u1", state.User.ID)
}

func TestResolveSignedOut(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)
	answerAuth(host, AuthState{Status: StatusSignedOut})

	r := NewResolver(consumer, hostOrigin)
	state := r.Resolve(context.Background())

	assert.Equal(t, StatusSignedOut, state.Status)
	assert.Nil(t, state.User)
}

func TestResolveTimeoutFallsBackToSignedOut(t *testing.T) {
	consumer, _ := Pipe(toolOrigin, hostOrigin)

	r := NewResolver(consumer, hostOrigin)
	r.SetTimeouts(10*time.Millisecond, 50*time.Millisecond)

	start := time.Now()
	state := r.Resolve(context.Background())

	assert.Equal(t, StatusSignedOut, state.Status)
	assert.Less(t, time.Since(start), time.Second, "timeout should bound the handshake")
}

func TestResolveRetriesOnce(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)

	// Ignore the first request, answer the retry.
	go func() {
		seen := 0
		for env := range host.Receive() {
			if env.Message.Type != TypeAuthRequest {
				continue
			}
			seen++
			if seen == 2 {
				_ = host.Send(Message{Type: TypeAuthState, Status: StatusSignedIn})
				return
			}
		}
	}()

	r := NewResolver(consumer, hostOrigin)
	r.SetTimeouts(10*time.Millisecond, time.Second)

	state := r.Resolve(context.Background())
	assert.Equal(t, StatusSignedIn, state.Status)
}

func TestResolveIgnoresWrongOrigin(t *testing.T) {
	consumer, impostor := Pipe(toolOrigin, "https://evil.example.com")
	answerAuth(impostor, AuthState{Status: StatusSignedIn, User: &User{ID: "u1"}})

	r := NewResolver(consumer, hostOrigin)
	r.SetTimeouts(10*time.Millisecond, 50*time.Millisecond)

	state := r.Resolve(context.Background())
	assert.Equal(t, StatusSignedOut, state.Status, "response from wrong origin must be dropped")
}

func TestResolveUnknownStatusBecomesError(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)
	go func() {
		for env := range host.Receive() {
			if env.Message.Type == TypeAuthRequest {
				_ = host.Send(Message{Type: TypeAuthState, Status: Status("root")})
				return
			}
		}
	}()

	r := NewResolver(consumer, hostOrigin)
	state := r.Resolve(context.Background())

	assert.Equal(t, StatusError, state.Status)
}

func TestResolvePeerGoneResolvesSignedOut(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)
	host.(*pipeConn).Close()

	r := NewResolver(consumer, hostOrigin)
	state := r.Resolve(context.Background())

	assert.Equal(t, StatusSignedOut, state.Status)
}

func TestResolveContextCancel(t *testing.T) {
	consumer, _ := Pipe(toolOrigin, hostOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(consumer, hostOrigin)
	state := r.Resolve(ctx)

	assert.Equal(t, StatusSignedOut, state.Status)
}

func TestResolveIsTerminal(t *testing.T) {
	consumer, host := Pipe(toolOrigin, hostOrigin)
	answerAuth(host, AuthState{Status: StatusSignedIn})

	r := NewResolver(consumer, hostOrigin)
	first := r.Resolve(context.Background())
	require.Equal(t, StatusSignedIn, first.Status)

	// A later signed-out answer cannot flip the resolved state.
	_ = host.Send(Message{Type: TypeAuthState, Status: StatusSignedOut})
	second := r.Resolve(context.Background())
	assert.Equal(t, StatusSignedIn, second.Status)
	assert.Equal(t, StatusSignedIn, r.State().Status)
}

func TestStateBeforeResolveIsUnknown(t *testing.T) {
	consumer, _ := Pipe(toolOrigin, hostOrigin)
	r := NewResolver(consumer, hostOrigin)
	assert.Equal(t, StatusUnknown, r.State().Status)
}
