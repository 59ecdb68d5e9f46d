// Package api exposes the toolbridge HTTP surface: the memory CRUD
// endpoints tool runtimes call, tool metadata management, the sandbox
// preview document, the auth bridge endpoint, and published site serving.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antonets/toolbridge/internal/bridge"
	"github.com/antonets/toolbridge/internal/memory"
	"github.com/antonets/toolbridge/internal/publishq"
	"github.com/antonets/toolbridge/internal/shell"
	"github.com/antonets/toolbridge/internal/storage"
	"github.com/antonets/toolbridge/internal/theme"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxBundleBodySize = 10 << 20 // 10MB; generated bundles can be large

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Store *storage.Store
	Hub   *bridge.Hub
	// Token protects management endpoints (bearer auth).
	Token string
	// Accounts validates account-mode credentials; nil disables account
	// scoping (requests with a bearer credential are refused, clients
	// degrade to no-op).
	Accounts AccountVerifier
	// APIBase / BridgeURL / BridgeOrigin are what rendered documents are
	// wired with.
	APIBase        string
	BridgeURL      string
	BridgeOrigin   string
	AllowedOrigins []string
	StudioBaseURL  string
	// ExportDir is where published sites live; served under /p/.
	ExportDir string
}

// NewHandler builds the complete router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	// Runtime-facing routes: scoped by session or account credential, no
	// management token required.
	r.Get("/tools/{toolID}/memory", handleListMemory(deps))
	r.Post("/tools/{toolID}/memory", handleSetMemory(deps))
	r.Delete("/tools/{toolID}/memory", handleClearMemory(deps))
	r.Delete("/tools/{toolID}/memory/{key}", handleDeleteMemory(deps))
	r.Get("/t/{toolID}", handlePreview(deps))

	endpoint := bridge.NewEndpoint(bridgeAuth{deps.Accounts}, deps.Hub, deps.AllowedOrigins)
	r.Handle("/bridge", endpoint.Handler())

	if deps.ExportDir != "" {
		fileServer := http.StripPrefix("/p/", http.FileServer(http.Dir(deps.ExportDir)))
		r.Get("/p/*", fileServer.ServeHTTP)
	}

	// Management routes.
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/tools", handleListTools(deps))
		r.Post("/tools", handleSaveTool(deps))
		r.Get("/tools/{toolID}", handleGetTool(deps))
		r.Delete("/tools/{toolID}", handleDeleteTool(deps))
		r.Post("/tools/{toolID}/publish", handlePublish(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// bridgeAuth reports the host sign-in state for bridge connections: the
// presented bearer credential decides, anonymous connections are signed-out.
type bridgeAuth struct {
	accounts AccountVerifier
}

func (a bridgeAuth) State(r *http.Request) bridge.AuthState {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		token = auth[len(bearerPrefix):]
	}
	if token == "" || a.accounts == nil {
		return bridge.AuthState{Status: bridge.StatusSignedOut}
	}
	u, ok := a.accounts.Verify(token)
	if !ok {
		return bridge.AuthState{Status: bridge.StatusSignedOut}
	}
	return bridge.AuthState{Status: bridge.StatusSignedIn, User: &u}
}

// --- Memory ---

func wireEntry(e storage.MemoryEntry) memory.Entry {
	return memory.Entry{
		Key:       e.Key,
		Value:     json.RawMessage(e.Value),
		UpdatedAt: e.UpdatedAt,
	}
}

func handleListMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := resolveScope(w, r, deps.Accounts)
		if !ok {
			return
		}
		toolID := chi.URLParam(r, "toolID")

		rows, err := deps.Store.ListMemories(toolID, scope)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list memory: %v", err)
			return
		}

		entries := make([]memory.Entry, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, wireEntry(row))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"memories": entries})
	}
}

type setMemoryRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func handleSetMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := resolveScope(w, r, deps.Accounts)
		if !ok {
			return
		}
		toolID := chi.URLParam(r, "toolID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req setMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Key == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
			return
		}
		if len(req.Value) == 0 {
			req.Value = json.RawMessage("null")
		}

		entry, err := deps.Store.UpsertMemory(toolID, scope, req.Key, string(req.Value))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save memory: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"memory": wireEntry(entry)})
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := resolveScope(w, r, deps.Accounts)
		if !ok {
			return
		}
		toolID := chi.URLParam(r, "toolID")
		key := chi.URLParam(r, "key")

		err := deps.Store.DeleteMemory(toolID, scope, key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory key not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete memory: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleClearMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := resolveScope(w, r, deps.Accounts)
		if !ok {
			return
		}
		toolID := chi.URLParam(r, "toolID")

		if err := deps.Store.ClearMemories(toolID, scope); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear memory: %v", err)
			return
		}
		deps.Hub.Publish(bridge.Message{Type: bridge.TypeMemoryClear, ToolID: toolID})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

// --- Preview ---

func handlePreview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolID := chi.URLParam(r, "toolID")

		tool, err := deps.Store.GetTool(toolID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tool not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load tool: %v", err)
			return
		}

		rt := shell.Runtime{
			ToolID:       tool.ID,
			APIBase:      deps.APIBase,
			MemoryMode:   tool.MemoryMode,
			SessionID:    ensureSession(w, r),
			BridgeURL:    bridgeURLFor(deps.BridgeURL, tool.ID),
			BridgeOrigin: deps.BridgeOrigin,
		}
		doc := shell.BuildDocument(
			shell.Bundle{HTML: tool.HTML, CSS: tool.CSS, JS: tool.JS},
			tool.ThemeKey,
			shell.ColorMode(tool.ColorMode),
			rt,
		)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(doc))
	}
}

func bridgeURLFor(base, toolID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "tool=" + toolID + "&origin=null"
}

// --- Tool management ---

type toolRequest struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	HTML       string `json:"html"`
	CSS        string `json:"css"`
	JS         string `json:"js"`
	ThemeKey   string `json:"themeKey"`
	ColorMode  string `json:"colorMode"`
	MemoryMode string `json:"memoryMode"`
	Retention  string `json:"retention"`
}

func handleSaveTool(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBundleBodySize)
		defer r.Body.Close()

		var req toolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.HTML == "" && req.JS == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tool bundle is empty")
			return
		}

		mode, err := memory.ParseMode(req.MemoryMode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		retention, err := memory.ParseRetention(req.Retention)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.ThemeKey == "" || !theme.Known(req.ThemeKey) {
			req.ThemeKey = theme.DefaultKey
		}
		if req.ColorMode != string(shell.ModeDark) {
			req.ColorMode = string(shell.ModeLight)
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		tool := storage.Tool{
			ID:         req.ID,
			Title:      req.Title,
			Summary:    req.Summary,
			HTML:       req.HTML,
			CSS:        req.CSS,
			JS:         req.JS,
			ThemeKey:   req.ThemeKey,
			ColorMode:  req.ColorMode,
			MemoryMode: string(mode),
			Retention:  string(retention),
		}
		if err := deps.Store.SaveTool(tool); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save tool: %v", err)
			return
		}

		saved, err := deps.Store.GetTool(tool.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load saved tool: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(saved)
	}
}

func handleGetTool(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "toolID")

		tool, err := deps.Store.GetTool(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tool not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get tool: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tool)
	}
}

func handleListTools(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		tools, err := deps.Store.ListTools(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tools: %v", err)
			return
		}
		if tools == nil {
			tools = []storage.Tool{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tools)
	}
}

func handleDeleteTool(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "toolID")

		err := deps.Store.DeleteTool(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tool not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete tool: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

type publishRequest struct {
	Slug string `json:"slug"`
}

func handlePublish(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "toolID")

		tool, err := deps.Store.GetTool(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "tool not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get tool: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req publishRequest
		// An empty body is fine; the slug is derived then.
		_ = json.NewDecoder(r.Body).Decode(&req)

		slug := req.Slug
		if slug == "" {
			slug = tool.PublishedSlug
		}
		if slug == "" {
			slug = deriveSlug(tool.Title, tool.ID)
		}

		payload, err := json.Marshal(publishq.JobPayload{ToolID: tool.ID, Slug: slug})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        publishq.JobType,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "queued",
			"slug":   slug,
		})
	}
}

// deriveSlug produces a stable public slug from the title with a short id
// suffix to avoid collisions.
func deriveSlug(title, id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "tool"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return slug + "-" + suffix
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
