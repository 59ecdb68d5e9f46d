// Package memory implements the per-tool key/value store client used by
// rendered tool runtimes. A client is bound to one tool id and one
// persistence mode; the transport behind it is resolved once at
// construction and never re-probed per call.
package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects how (and whether) a tool's memory persists.
type Mode string

const (
	// ModeNone disables persistence: every operation is a no-op.
	ModeNone Mode = "none"
	// ModeDevice attributes rows to the anonymous per-browser session id.
	ModeDevice Mode = "device"
	// ModeAccount attributes rows to the signed-in user. Without a
	// credential the client degrades to ModeNone rather than erroring.
	ModeAccount Mode = "account"
)

// ParseMode validates a stored mode string, defaulting empty to none.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeDevice, ModeAccount:
		return Mode(s), nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown memory mode %q", s)
	}
}

// Retention governs whether a viewer-facing reset clears memory. It is
// interpreted by host UI; the store itself always persists until removal.
type Retention string

const (
	RetentionIndefinite Retention = "indefinite"
	RetentionSession    Retention = "session"
	RetentionCustom     Retention = "custom"
)

// ParseRetention validates a stored retention string, defaulting empty to
// indefinite.
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case RetentionIndefinite, RetentionSession, RetentionCustom:
		return Retention(s), nil
	case "":
		return RetentionIndefinite, nil
	default:
		return "", fmt.Errorf("unknown memory retention %q", s)
	}
}

// Strategy is the transport resolved by the construction-time probe.
type Strategy string

const (
	StrategyRemote Strategy = "remote"
	StrategyLocal  Strategy = "local"
	StrategyNone   Strategy = "none"
)

// Entry is one memory row as tools see it. Field names match the wire
// format of the memory API.
type Entry struct {
	Key       string          `json:"memoryKey"`
	Value     json.RawMessage `json:"memoryValue"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RequestError is surfaced from Set/Remove when a reachable backend
// explicitly rejected the request. Mere unreachability never produces one.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("memory request rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("memory request rejected (status %d): %s", e.Status, e.Message)
}
