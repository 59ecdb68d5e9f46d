package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antonets/toolbridge/internal/shell"
)

func samplePayload() Payload {
	return Payload{
		ToolID: "t1",
		Bundle: shell.Bundle{
			HTML: `<div id="app"></div>`,
			CSS:  `#app { color: var(--tb-fg); }`,
			JS:   `console.log("up");`,
		},
		ThemeKey:   "slate",
		ColorMode:  "light",
		MemoryMode: "device",
		Retention:  "indefinite",
		Title:      "Pomodoro Timer",
		Summary:    "a simple pomodoro timer",
	}
}

func sampleOptions() Options {
	return Options{
		APIBase:       "https://tools.example.com",
		BridgeURL:     "wss://tools.example.com/bridge?tool=t1",
		BridgeOrigin:  "https://tools.example.com",
		StudioBaseURL: "https://studio.example.com",
	}
}

func TestParsePayloadRoundTrip(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	p, err := ParsePayload(data)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.ToolID != "t1" || p.Title != "Pomodoro Timer" {
		t.Errorf("payload fields lost: %+v", p)
	}
}

func TestParsePayloadFailsFast(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{broken`},
		{"empty bundle", `{"toolId":"t1","bundle":{"html":"","css":"x","js":""}}`},
		{"bad memory mode", `{"toolId":"t1","bundle":{"html":"<p>x</p>"},"memoryMode":"cloud"}`},
		{"bad retention", `{"toolId":"t1","bundle":{"html":"<p>x</p>"},"memoryMode":"device","retention":"forever"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePayload([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParsePayloadDefaultsEmptyEnums(t *testing.T) {
	p, err := ParsePayload([]byte(`{"toolId":"t1","bundle":{"html":"<p>x</p>"}}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.ToolID != "t1" {
		t.Errorf("toolId = %q", p.ToolID)
	}
}

func TestBuildPageSkeleton(t *testing.T) {
	page := BuildPage(samplePayload(), sampleOptions())

	for _, want := range []string{
		"<title>Pomodoro Timer</title>",
		`<header class="tb-chrome">`,
		`id="tb-auth" data-state="unknown"`,
		`<main class="tb-tool" id="tb-tool">`,
		`<div id="app"></div>`,
		`id="tb-remix" href="https://studio.example.com/remix/t1"`,
		`id="toolbridge-payload"`,
		"window.__TOOLBRIDGE_CONFIG__",
		`<script type="module">`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestBuildPageEmbedsParseablePayload(t *testing.T) {
	page := BuildPage(samplePayload(), sampleOptions())

	start := strings.Index(page, `id="toolbridge-payload">`)
	if start < 0 {
		t.Fatal("payload script not found")
	}
	start += len(`id="toolbridge-payload">`)
	end := strings.Index(page[start:], "</script>")
	if end < 0 {
		t.Fatal("payload script not terminated")
	}

	p, err := ParsePayload([]byte(page[start : start+end]))
	if err != nil {
		t.Fatalf("embedded payload does not parse: %v", err)
	}
	if p.ToolID != "t1" {
		t.Errorf("toolId = %q", p.ToolID)
	}
}

func TestBuildPageEscapesTitle(t *testing.T) {
	p := samplePayload()
	p.Title = `<script>alert(1)</script>`
	p.Summary = `"quoted" & <tagged>`

	page := BuildPage(p, sampleOptions())

	if strings.Contains(page, "<title><script>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(page, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Error("expected escaped title text")
	}
	if strings.Contains(page, `content=""quoted"`) {
		t.Error("summary not escaped in meta description")
	}
}

func TestBuildPageDarkMode(t *testing.T) {
	p := samplePayload()
	p.ColorMode = "dark"
	page := BuildPage(p, sampleOptions())
	if !strings.Contains(page, `<html class="tb-dark">`) {
		t.Error("dark page missing root class")
	}
}

func TestBuildPageUntitledFallback(t *testing.T) {
	p := samplePayload()
	p.Title = ""
	page := BuildPage(p, sampleOptions())
	if !strings.Contains(page, "<title>Untitled tool</title>") {
		t.Error("missing untitled fallback")
	}
}

func TestBuildPageRemixFallbackWithoutToolID(t *testing.T) {
	p := samplePayload()
	p.ToolID = ""
	page := BuildPage(p, sampleOptions())

	if !strings.Contains(page, `href="https://studio.example.com/remix"`) {
		t.Error("missing base remix link")
	}
	// The chrome script substitutes a hostname-derived slug at runtime.
	if !strings.Contains(page, "window.location.hostname.split('.')[0]") {
		t.Error("missing hostname slug fallback")
	}
}

func TestBuildPageToolScriptCloseTagEscaped(t *testing.T) {
	p := samplePayload()
	p.Bundle.JS = `const s = "</script>"; render(s);`
	page := BuildPage(p, sampleOptions())

	if strings.Contains(page, `const s = "</script>";`) {
		t.Error("tool JS closing tag not escaped in the published page")
	}
	if !strings.Contains(page, `const s = "<\/script>"; render(s);`) {
		t.Error("expected escaped closing tag in the published module script")
	}
}

func TestBuildErrorPage(t *testing.T) {
	page := BuildErrorPage(`payload <broken>`)
	if !strings.Contains(page, "This tool could not be loaded") {
		t.Error("missing error headline")
	}
	if !strings.Contains(page, "payload &lt;broken&gt;") {
		t.Error("reason not escaped")
	}
}

func TestWriteSite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pomodoro-t1")

	if err := WriteSite(dir, samplePayload(), sampleOptions()); err != nil {
		t.Fatalf("WriteSite: %v", err)
	}

	payloadData, err := os.ReadFile(filepath.Join(dir, "payload.json"))
	if err != nil {
		t.Fatalf("reading payload.json: %v", err)
	}
	p, err := ParsePayload(payloadData)
	if err != nil {
		t.Fatalf("payload.json does not parse: %v", err)
	}
	if p.ToolID != "t1" {
		t.Errorf("toolId = %q", p.ToolID)
	}

	pageData, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("reading index.html: %v", err)
	}
	if !strings.Contains(string(pageData), "<title>Pomodoro Timer</title>") {
		t.Error("index.html missing page content")
	}
}
