// Package session mints and persists the opaque anonymous identifier that
// attributes device-scoped memory. The identifier is stable for the life
// of the profile directory and is never rotated here.
package session

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// CookieName is the first-party cookie the server mirrors the session
	// id into so plain page loads are attributable without a header.
	CookieName = "toolbridge_session"

	// HeaderName carries the session id on memory API requests in device mode.
	HeaderName = "X-Toolbridge-Session"

	// CookieMaxAge is one year, in seconds.
	CookieMaxAge = 365 * 24 * 60 * 60

	tokenFile = "session_id"
)

// Manager produces the per-profile session identifier.
type Manager struct {
	dir string

	mu     sync.Mutex
	cached string
	group  singleflight.Group
}

// NewManager returns a Manager persisting under dir. An empty dir disables
// persistence; the identifier then lives only for the process.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// EnsureSessionID returns the stored session id, minting one on first use.
// It never fails: persistence errors are swallowed and the generated token
// is kept in memory for the remainder of the process.
func (m *Manager) EnsureSessionID() string {
	m.mu.Lock()
	if m.cached != "" {
		id := m.cached
		m.mu.Unlock()
		return id
	}
	m.mu.Unlock()

	// Concurrent first callers must all receive the same token.
	v, _, _ := m.group.Do("ensure", func() (any, error) {
		return m.ensure(), nil
	})
	return v.(string)
}

func (m *Manager) ensure() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != "" {
		return m.cached
	}

	if id := m.readStored(); id != "" {
		m.cached = id
		return id
	}

	id := NewToken()
	m.persist(id)
	m.cached = id
	return id
}

func (m *Manager) readStored() string {
	if m.dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(m.dir, tokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (m *Manager) persist(id string) {
	if m.dir == "" {
		return
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(m.dir, tokenFile), []byte(id), 0o600)
}

// NewToken generates a fresh session token: a CSPRNG UUID, or a
// time+random composite when UUID generation is unavailable.
func NewToken() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("s-%d-%06d", time.Now().UnixNano(), rand.Intn(1_000_000))
}
