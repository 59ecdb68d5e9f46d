package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antonets/toolbridge/internal/bridge"
	"github.com/antonets/toolbridge/internal/publishq"
	"github.com/antonets/toolbridge/internal/session"
	"github.com/antonets/toolbridge/internal/storage"
	"github.com/antonets/toolbridge/internal/theme"
)

const testToken = "mgmt-token"

type apiFixture struct {
	handler http.Handler
	store   *storage.Store
	hub     *bridge.Hub
}

func newAPIFixture(t *testing.T, accounts AccountVerifier) *apiFixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := bridge.NewHub()
	handler := NewHandler(Deps{
		Store:          store,
		Hub:            hub,
		Token:          testToken,
		Accounts:       accounts,
		APIBase:        "http://127.0.0.1:7420",
		BridgeURL:      "ws://127.0.0.1:7420/bridge",
		BridgeOrigin:   "http://127.0.0.1:7420",
		AllowedOrigins: []string{"null"},
		StudioBaseURL:  "http://127.0.0.1:7420/studio",
	})
	return &apiFixture{handler: handler, store: store, hub: hub}
}

type reqOpt func(*http.Request)

func withSession(id string) reqOpt {
	return func(r *http.Request) { r.Header.Set(session.HeaderName, id) }
}

func withBearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (f *apiFixture) do(t *testing.T, method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func (f *apiFixture) saveTool(t *testing.T, tool storage.Tool) {
	t.Helper()
	if tool.ThemeKey == "" {
		tool.ThemeKey = theme.DefaultKey
	}
	if tool.ColorMode == "" {
		tool.ColorMode = "light"
	}
	if tool.MemoryMode == "" {
		tool.MemoryMode = "device"
	}
	if tool.Retention == "" {
		tool.Retention = "indefinite"
	}
	if err := f.store.SaveTool(tool); err != nil {
		t.Fatalf("SaveTool: %v", err)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestMemoryScopedBySession(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.saveTool(t, storage.Tool{ID: "t1", HTML: "<p>x</p>"})

	rec := f.do(t, http.MethodPost, "/tools/t1/memory", `{"key":"streak","value":4}`, withSession("ada"))
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}

	var setResp struct {
		Memory struct {
			Key   string          `json:"memoryKey"`
			Value json.RawMessage `json:"memoryValue"`
		} `json:"memory"`
	}
	decodeBody(t, rec, &setResp)
	if setResp.Memory.Key != "streak" || string(setResp.Memory.Value) != "4" {
		t.Errorf("set response = %+v", setResp.Memory)
	}

	var listResp struct {
		Memories []struct {
			Key string `json:"memoryKey"`
		} `json:"memories"`
	}

	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withSession("ada"))
	decodeBody(t, rec, &listResp)
	if len(listResp.Memories) != 1 || listResp.Memories[0].Key != "streak" {
		t.Errorf("owner list = %+v", listResp.Memories)
	}

	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withSession("bob"))
	listResp.Memories = nil
	decodeBody(t, rec, &listResp)
	if len(listResp.Memories) != 0 {
		t.Errorf("other session sees %d entries", len(listResp.Memories))
	}
}

func TestMemoryMintsSessionCookie(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/tools/t1/memory", `{"key":"k","value":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected a session cookie to be minted")
	}

	// The minted identity keeps working through the cookie alone.
	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withCookie(cookie))
	if !strings.Contains(rec.Body.String(), `"k"`) {
		t.Errorf("cookie-scoped list missing entry: %s", rec.Body.String())
	}
}

func TestMemoryHeaderSkipsCookieMinting(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/tools/t1/memory", "", withSession("ada"))
	if len(rec.Result().Cookies()) != 0 {
		t.Error("header-scoped request should not mint a cookie")
	}
}

func TestMemorySetRequiresKey(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/tools/t1/memory", `{"value":1}`, withSession("ada"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteMemory(t *testing.T) {
	f := newAPIFixture(t, nil)

	f.do(t, http.MethodPost, "/tools/t1/memory", `{"key":"gone","value":true}`, withSession("ada"))

	rec := f.do(t, http.MethodDelete, "/tools/t1/memory/gone", "", withSession("ada"))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/tools/t1/memory/gone", "", withSession("ada"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not_found") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestClearMemoryBroadcasts(t *testing.T) {
	f := newAPIFixture(t, nil)

	f.do(t, http.MethodPost, "/tools/t1/memory", `{"key":"a","value":1}`, withSession("ada"))

	ch, cancel := f.hub.Subscribe("t1")
	defer cancel()

	rec := f.do(t, http.MethodDelete, "/tools/t1/memory", "", withSession("ada"))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	select {
	case msg := <-ch:
		if msg.Type != bridge.TypeMemoryClear {
			t.Errorf("broadcast type = %q", msg.Type)
		}
	default:
		t.Error("expected a memory-clear broadcast")
	}

	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withSession("ada"))
	if strings.Contains(rec.Body.String(), `"a"`) {
		t.Errorf("memory survived clear: %s", rec.Body.String())
	}
}

func TestAccountScope(t *testing.T) {
	accounts := StaticAccounts{"acct-token": bridge.User{ID: "u1", Email: "Ada"}}
	f := newAPIFixture(t, accounts)

	rec := f.do(t, http.MethodPost, "/tools/t1/memory", `{"key":"plan","value":"pro"}`, withBearer("acct-token"))
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withBearer("acct-token"))
	if !strings.Contains(rec.Body.String(), `"plan"`) {
		t.Errorf("account list missing entry: %s", rec.Body.String())
	}

	// An anonymous session must not see account rows.
	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withSession("ada"))
	if strings.Contains(rec.Body.String(), `"plan"`) {
		t.Error("session scope sees account memory")
	}

	rec = f.do(t, http.MethodGet, "/tools/t1/memory", "", withBearer("wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid credential status = %d, want 401", rec.Code)
	}
}

func TestAccountBearerRefusedWithoutVerifier(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/tools/t1/memory", "", withBearer("anything"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.saveTool(t, storage.Tool{ID: "t1", Title: "Counter", HTML: `<button id="inc">+1</button>`, ThemeKey: "ocean"})

	rec := f.do(t, http.MethodGet, "/t/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}

	doc := rec.Body.String()
	if !strings.Contains(doc, "__TOOLBRIDGE_CONFIG__") {
		t.Error("preview missing runtime config")
	}
	if !strings.Contains(doc, `<button id="inc">`) {
		t.Error("preview missing tool markup")
	}
	if !strings.Contains(doc, "tool=t1") {
		t.Error("preview bridge URL not scoped to the tool")
	}
}

func TestPreviewMissingTool(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/t/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestManagementRequiresBearer(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/tools", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/tools", "", withBearer("wrong-token"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/tools", "", withBearer(testToken))
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestSaveToolValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty bundle", `{"title":"x"}`},
		{"bad memory mode", `{"html":"<p>x</p>","memoryMode":"cloud"}`},
		{"bad retention", `{"html":"<p>x</p>","retention":"forever"}`},
		{"not json", `nope`},
	}
	f := newAPIFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/tools", tt.body, withBearer(testToken))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSaveToolDefaults(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/tools", `{"title":"T","html":"<p>x</p>","themeKey":"no-such-theme","colorMode":"neon"}`, withBearer(testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var saved storage.Tool
	decodeBody(t, rec, &saved)
	if saved.ID == "" {
		t.Error("id was not minted")
	}
	if saved.ThemeKey != theme.DefaultKey {
		t.Errorf("theme = %q, want fallback %q", saved.ThemeKey, theme.DefaultKey)
	}
	if saved.ColorMode != "light" {
		t.Errorf("color mode = %q, want light", saved.ColorMode)
	}
	if saved.MemoryMode != "none" {
		t.Errorf("memory mode = %q, want none default", saved.MemoryMode)
	}
	if saved.Retention != "indefinite" {
		t.Errorf("retention = %q, want indefinite default", saved.Retention)
	}
}

func TestToolRoundTripAndDelete(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/tools", `{"id":"t1","title":"Timer","html":"<p>x</p>","memoryMode":"none"}`, withBearer(testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/tools/t1", "", withBearer(testToken))
	var tool storage.Tool
	decodeBody(t, rec, &tool)
	if tool.Title != "Timer" || tool.MemoryMode != "none" {
		t.Errorf("fetched tool = %+v", tool)
	}

	rec = f.do(t, http.MethodDelete, "/tools/t1", "", withBearer(testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/tools/t1", "", withBearer(testToken))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestPublishEnqueuesJob(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.saveTool(t, storage.Tool{ID: "abcdef123456", Title: "Pomodoro Timer", HTML: "<p>x</p>"})

	rec := f.do(t, http.MethodPost, "/tools/abcdef123456/publish", "", withBearer(testToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "queued" {
		t.Errorf("status field = %q", resp["status"])
	}
	if resp["slug"] != "pomodoro-timer-abcdef12" {
		t.Errorf("slug = %q", resp["slug"])
	}

	job, err := f.store.ClaimNextJob([]string{publishq.JobType})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	var payload publishq.JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("parsing job payload: %v", err)
	}
	if payload.ToolID != "abcdef123456" || payload.Slug != "pomodoro-timer-abcdef12" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestPublishExplicitSlug(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.saveTool(t, storage.Tool{ID: "t1", Title: "X", HTML: "<p>x</p>"})

	rec := f.do(t, http.MethodPost, "/tools/t1/publish", `{"slug":"my-tool"}`, withBearer(testToken))
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["slug"] != "my-tool" {
		t.Errorf("slug = %q, want my-tool", resp["slug"])
	}
}

func TestPublishMissingTool(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/tools/nope/publish", "", withBearer(testToken))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeriveSlug(t *testing.T) {
	tests := []struct {
		title string
		id    string
		want  string
	}{
		{"Pomodoro Timer!", "abcdef123456", "pomodoro-timer-abcdef12"},
		{"My  Tool", "id1", "my-tool-id1"},
		{"", "xyz", "tool-xyz"},
		{"???", "xyz", "tool-xyz"},
		{strings.Repeat("a", 60), "xyz", strings.Repeat("a", 40) + "-xyz"},
	}
	for _, tt := range tests {
		if got := deriveSlug(tt.title, tt.id); got != tt.want {
			t.Errorf("deriveSlug(%q, %q) = %q, want %q", tt.title, tt.id, got, tt.want)
		}
	}
}
