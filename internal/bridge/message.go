// Package bridge implements the cross-origin auth bridge: the message
// protocol a rendered tool uses to discover the host's sign-in state, and
// the broadcast channel sibling tool contexts use to keep local memory in
// sync. Every inbound message is origin-checked before any handler runs.
package bridge

import (
	"encoding/json"
	"time"
)

// MessageType is the closed set of wire message kinds. Messages with any
// other type are dropped silently.
type MessageType string

const (
	TypeAuthRequest MessageType = "auth-request"
	TypeAuthState   MessageType = "auth-state"
	TypeMemorySync  MessageType = "template-memory-sync"
	TypeMemoryClear MessageType = "template-memory-clear"
)

// Status is the resolved sign-in state.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusSignedIn  Status = "signed-in"
	StatusSignedOut Status = "signed-out"
	StatusError     Status = "error"
)

// User identifies a signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthState is the outcome of one bridge handshake. It starts unknown and
// resolves exactly once per bridge life.
type AuthState struct {
	Status Status `json:"status"`
	User   *User  `json:"user,omitempty"`
}

// SyncEntry is one memory row carried by a template-memory-sync broadcast.
type SyncEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Message is the single wire shape for all bridge traffic; which fields
// are meaningful depends on Type.
type Message struct {
	Type    MessageType `json:"type"`
	Status  Status      `json:"status,omitempty"`
	User    *User       `json:"user,omitempty"`
	ToolID  string      `json:"toolId,omitempty"`
	Entries []SyncEntry `json:"entries,omitempty"`
}

// Envelope pairs a received message with the origin its sender declared.
// Consumers must compare Origin against the origin they expect before
// acting on the message.
type Envelope struct {
	Origin  string
	Message Message
}

// ParseMessage decodes raw bytes into a Message, reporting whether the
// payload is a well-formed member of the closed message set.
func ParseMessage(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case TypeAuthRequest, TypeAuthState, TypeMemorySync, TypeMemoryClear:
		return m, true
	default:
		return Message{}, false
	}
}
