package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// localEntry is the on-disk shape: {"<key>": {"value": ..., "updatedAt": ...}}.
type localEntry struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// localStore is the offline fallback: one JSON file per tool, re-read and
// rewritten whole on every mutation. When the file cannot be used (quota,
// permissions, no dir configured) it degrades to an in-process map for the
// remainder of the client's life.
type localStore struct {
	path string

	mu       sync.Mutex
	degraded bool
	mem      map[string]localEntry
}

func newLocalStore(dir, toolID string) *localStore {
	s := &localStore{}
	if dir == "" {
		s.degraded = true
		s.mem = make(map[string]localEntry)
		return s
	}
	s.path = filepath.Join(dir, toolID+".json")
	return s
}

func (s *localStore) load() map[string]localEntry {
	if s.degraded {
		return s.mem
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return make(map[string]localEntry)
	}
	entries := make(map[string]localEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return make(map[string]localEntry)
	}
	return entries
}

func (s *localStore) persist(entries map[string]localEntry) {
	if s.degraded {
		s.mem = entries
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.degrade(entries)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.degrade(entries)
	}
}

// degrade switches to in-memory-only behavior; the storage condition is
// treated as "unsupported", never surfaced to the tool.
func (s *localStore) degrade(entries map[string]localEntry) {
	s.degraded = true
	s.mem = entries
}

func (s *localStore) list() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load()
	out := make([]Entry, 0, len(entries))
	for k, e := range entries {
		out = append(out, Entry{Key: k, Value: e.Value, UpdatedAt: e.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *localStore) set(key string, value json.RawMessage) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load()
	e := localEntry{Value: value, UpdatedAt: time.Now().UTC()}
	entries[key] = e
	s.persist(entries)
	return Entry{Key: key, Value: e.Value, UpdatedAt: e.UpdatedAt}
}

func (s *localStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.load()
	if _, ok := entries[key]; !ok {
		return
	}
	delete(entries, key)
	s.persist(entries)
}

func (s *localStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist(make(map[string]localEntry))
}
