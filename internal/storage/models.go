package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Tool is the stored metadata and bundle for one micro-tool.
type Tool struct {
	ID            string
	Title         string
	Summary       string
	HTML          string
	CSS           string
	JS            string
	ThemeKey      string
	ColorMode     string // "light" or "dark"
	MemoryMode    string // "none", "device", "account"
	Retention     string // "indefinite", "session", "custom"
	PublishedSlug string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MemoryEntry is one persisted key/value row for a tool scope.
// Value holds the JSON-encoded value as stored.
type MemoryEntry struct {
	ToolID    string
	Scope     string
	Key       string
	Value     string
	UpdatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
