package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/antonets/toolbridge/internal/bridge"
	"github.com/antonets/toolbridge/internal/session"
)

// CredentialSource supplies the bearer credential for account mode.
type CredentialSource interface {
	Token() string
}

// StaticCredential is a CredentialSource around a fixed token.
type StaticCredential string

func (c StaticCredential) Token() string { return string(c) }

// Broadcaster receives memory mutation broadcasts so sibling execution
// contexts of the same tool can resync.
type Broadcaster interface {
	Publish(bridge.Message)
}

// Options configures a Client. The zero value yields a no-op client.
type Options struct {
	// APIBase is the memory backend base URL; empty forces local fallback.
	APIBase string
	Mode    Mode
	// Session attributes device-mode requests; required for device mode
	// against a remote backend.
	Session *session.Manager
	// Credentials supplies the account-mode bearer token. Absent or empty
	// in account mode, the client behaves as mode none.
	Credentials CredentialSource
	// LocalDir is where local-fallback files live; empty degrades local
	// fallback to in-memory-only.
	LocalDir   string
	HTTPClient *http.Client
	// Broadcast, when set, receives sync/clear messages on every local
	// mutation.
	Broadcast Broadcaster
}

// Client is the tool-facing memory store. Construct with NewClient; the
// persistence strategy is probed once and fixed for the client's life.
type Client struct {
	toolID   string
	opts     Options
	strategy Strategy
	http     *http.Client
	local    *localStore

	mu     sync.Mutex
	cache  []Entry
	cached bool
}

// NewClient builds a client for toolID and resolves its strategy:
// mode none (or account without a credential) is a no-op client; a
// reachable backend is used remotely; otherwise the local fallback serves.
func NewClient(toolID string, opts Options) *Client {
	c := &Client{toolID: toolID, opts: opts, http: opts.HTTPClient}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	c.strategy = c.probe()
	if c.strategy == StrategyLocal {
		c.local = newLocalStore(opts.LocalDir, toolID)
	}
	return c
}

func (c *Client) probe() Strategy {
	switch c.opts.Mode {
	case ModeNone, "":
		return StrategyNone
	case ModeAccount:
		if c.opts.Credentials == nil || c.opts.Credentials.Token() == "" {
			return StrategyNone
		}
	}
	if c.opts.APIBase == "" {
		return StrategyLocal
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.APIBase+"/health", nil)
	if err != nil {
		return StrategyLocal
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StrategyLocal
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StrategyLocal
	}
	return StrategyRemote
}

// Strategy reports the transport resolved at construction.
func (c *Client) Strategy() Strategy { return c.strategy }

// ToolID returns the tool this client is scoped to.
func (c *Client) ToolID() string { return c.toolID }

// ForTool returns an equivalent client scoped to a different tool id but
// sharing this client's transport and session. No re-probe happens.
func (c *Client) ForTool(toolID string) *Client {
	n := &Client{toolID: toolID, opts: c.opts, strategy: c.strategy, http: c.http}
	if n.strategy == StrategyLocal {
		n.local = newLocalStore(c.opts.LocalDir, toolID)
	}
	return n
}

// List returns the tool's memory rows. Read failures degrade to an empty
// list, never an error. Remote listings are cached; use Refresh to bypass.
func (c *Client) List(ctx context.Context) []Entry {
	switch c.strategy {
	case StrategyNone:
		return []Entry{}
	case StrategyLocal:
		return c.local.list()
	}

	c.mu.Lock()
	if c.cached {
		out := append([]Entry(nil), c.cache...)
		c.mu.Unlock()
		return out
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh re-fetches the remote listing, bypassing the cache. Failure
// leaves any previous cache intact and returns an empty list.
func (c *Client) Refresh(ctx context.Context) []Entry {
	if c.strategy != StrategyRemote {
		return c.List(ctx)
	}

	var payload struct {
		Memories []Entry `json:"memories"`
	}
	resp, err := c.do(ctx, http.MethodGet, c.memoryPath(), nil)
	if err != nil {
		return []Entry{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return []Entry{}
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return []Entry{}
	}
	if payload.Memories == nil {
		payload.Memories = []Entry{}
	}

	c.mu.Lock()
	c.cache = payload.Memories
	c.cached = true
	out := append([]Entry(nil), c.cache...)
	c.mu.Unlock()
	return out
}

// Get returns the JSON value stored under key, or fallback (JSON-encoded)
// when the key is absent or any read path fails.
func (c *Client) Get(ctx context.Context, key string, fallback any) json.RawMessage {
	for _, e := range c.List(ctx) {
		if e.Key == key {
			return e.Value
		}
	}
	data, err := json.Marshal(fallback)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// Set upserts key to value. It returns a *RequestError only when a
// reachable backend explicitly rejected the write; an unreachable backend
// is absorbed (the value stays visible to this client for its page life).
func (c *Client) Set(ctx context.Context, key string, value any) (Entry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding value for %q: %w", key, err)
	}

	switch c.strategy {
	case StrategyNone:
		// Resolves without persistence so tools never crash over memory.
		return Entry{Key: key, Value: raw, UpdatedAt: time.Now().UTC()}, nil
	case StrategyLocal:
		e := c.local.set(key, raw)
		c.broadcastSync()
		return e, nil
	}

	body := map[string]any{"key": key, "value": json.RawMessage(raw)}
	resp, err := c.do(ctx, http.MethodPost, c.memoryPath(), body)
	if err != nil {
		// Backend unreachable: keep the write visible in-memory.
		e := Entry{Key: key, Value: raw, UpdatedAt: time.Now().UTC()}
		c.cacheForce(e)
		return e, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Entry{}, rejectionError(resp)
	}

	var payload struct {
		Memory Entry `json:"memory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Entry{}, fmt.Errorf("decoding memory response: %w", err)
	}
	c.cacheUpsert(payload.Memory)
	return payload.Memory, nil
}

// Remove deletes key. Removing an absent key is not an error: a backend
// 404 is treated as success, so Remove is idempotent.
func (c *Client) Remove(ctx context.Context, key string) error {
	switch c.strategy {
	case StrategyNone:
		return nil
	case StrategyLocal:
		c.local.remove(key)
		c.broadcastSync()
		return nil
	}

	resp, err := c.do(ctx, http.MethodDelete, c.memoryPath()+"/"+key, nil)
	if err != nil {
		c.cacheRemove(key)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.cacheRemove(key)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejectionError(resp)
	}
	c.cacheRemove(key)
	return nil
}

// Clear removes every row for the tool's scope.
func (c *Client) Clear(ctx context.Context) error {
	switch c.strategy {
	case StrategyNone:
		return nil
	case StrategyLocal:
		c.local.clear()
		if c.opts.Broadcast != nil {
			c.opts.Broadcast.Publish(bridge.Message{Type: bridge.TypeMemoryClear, ToolID: c.toolID})
		}
		return nil
	}

	resp, err := c.do(ctx, http.MethodDelete, c.memoryPath(), nil)
	if err != nil {
		c.cacheClear()
		return nil
	}
	defer resp.Body.Close()
	if (resp.StatusCode < 200 || resp.StatusCode >= 300) && resp.StatusCode != http.StatusNotFound {
		return rejectionError(resp)
	}
	c.cacheClear()
	return nil
}

func (c *Client) memoryPath() string {
	return c.opts.APIBase + "/tools/" + c.toolID + "/memory"
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch c.opts.Mode {
	case ModeAccount:
		req.Header.Set("Authorization", "Bearer "+c.opts.Credentials.Token())
	case ModeDevice:
		if c.opts.Session != nil {
			req.Header.Set(session.HeaderName, c.opts.Session.EnsureSessionID())
		}
	}

	return c.http.Do(req)
}

func rejectionError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return &RequestError{Status: resp.StatusCode, Message: payload.Error.Message}
	}
	return &RequestError{Status: resp.StatusCode}
}

func (c *Client) broadcastSync() {
	if c.opts.Broadcast == nil {
		return
	}
	entries := c.local.list()
	msg := bridge.Message{Type: bridge.TypeMemorySync, ToolID: c.toolID}
	for _, e := range entries {
		msg.Entries = append(msg.Entries, bridge.SyncEntry{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt})
	}
	c.opts.Broadcast.Publish(msg)
}

// cacheForce records an entry even when no listing has been cached yet,
// so a write absorbed during an outage stays visible for the page life.
func (c *Client) cacheForce(e Entry) {
	c.mu.Lock()
	c.cached = true
	c.mu.Unlock()
	c.cacheUpsert(e)
}

func (c *Client) cacheUpsert(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		return
	}
	for i := range c.cache {
		if c.cache[i].Key == e.Key {
			c.cache[i] = e
			return
		}
	}
	c.cache = append(c.cache, e)
}

func (c *Client) cacheRemove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cached {
		return
	}
	for i := range c.cache {
		if c.cache[i].Key == key {
			c.cache = append(c.cache[:i], c.cache[i+1:]...)
			return
		}
	}
}

func (c *Client) cacheClear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = nil
	c.cached = false
}
