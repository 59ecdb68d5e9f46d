// Package publish assembles the standalone published page for a tool: a
// self-contained document built from the serialized payload embedded at
// deploy time, with no access to the host application's component tree.
package publish

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/antonets/toolbridge/internal/memory"
	"github.com/antonets/toolbridge/internal/shell"
	"github.com/antonets/toolbridge/internal/theme"
)

// Payload is the serialized contract the publish runtime depends on
// verbatim. It is embedded in the published page as JSON.
type Payload struct {
	ToolID     string       `json:"toolId"`
	Bundle     shell.Bundle `json:"bundle"`
	ThemeKey   string       `json:"themeKey"`
	ColorMode  string       `json:"colorMode"`
	MemoryMode string       `json:"memoryMode"`
	Retention  string       `json:"retention"`
	Title      string       `json:"title"`
	Summary    string       `json:"summary"`
}

// ParsePayload decodes and validates an embedded payload. A malformed
// payload fails fast here so callers can render a visible error state
// instead of a partially working page.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("malformed publish payload: %w", err)
	}
	if p.Bundle.HTML == "" && p.Bundle.JS == "" {
		return Payload{}, fmt.Errorf("publish payload has an empty tool bundle")
	}
	if _, err := memory.ParseMode(p.MemoryMode); err != nil {
		return Payload{}, fmt.Errorf("publish payload: %w", err)
	}
	if _, err := memory.ParseRetention(p.Retention); err != nil {
		return Payload{}, fmt.Errorf("publish payload: %w", err)
	}
	return p, nil
}

// Options is host-side context the published page is wired with.
type Options struct {
	// APIBase is the memory backend the page talks to; empty leaves the
	// page in local-only memory mode.
	APIBase      string
	BridgeURL    string
	BridgeOrigin string
	// StudioBaseURL is where the remix affordance deep-links to.
	StudioBaseURL string
	// SessionID pre-seeds the anonymous identity; the page mints its own
	// when empty.
	SessionID string
}

const darkSelector = "html.tb-dark"

// BuildPage renders the complete published page. Unlike the sandboxed
// preview, the published page itself is the tool's execution context, so
// the theme applies to the top-level document and the bundle is injected
// into regions of a fixed skeleton (header, tool region, footer) that
// keeps consistent host chrome across arbitrary bundles.
func BuildPage(p Payload, opts Options) string {
	resolved := theme.Resolve(p.ThemeKey)

	rootClass := ""
	if shell.ColorMode(p.ColorMode) == shell.ModeDark {
		rootClass = ` class="tb-dark"`
	}

	title := p.Title
	if title == "" {
		title = "Untitled tool"
	}

	payloadJSON, err := json.Marshal(p)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	rt := shell.Runtime{
		ToolID:       p.ToolID,
		APIBase:      opts.APIBase,
		MemoryMode:   p.MemoryMode,
		SessionID:    opts.SessionID,
		BridgeURL:    opts.BridgeURL,
		BridgeOrigin: opts.BridgeOrigin,
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html" + rootClass + ">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	if p.Summary != "" {
		b.WriteString("<meta name=\"description\" content=\"" + html.EscapeString(p.Summary) + "\">\n")
	}

	b.WriteString("<style data-toolbridge=\"theme\">\n")
	b.WriteString(resolved.StyleBlock(darkSelector))
	b.WriteString(skeletonCSS)
	b.WriteString("</style>\n")
	if p.Bundle.CSS != "" {
		b.WriteString("<style data-toolbridge=\"tool\">\n" + p.Bundle.CSS + "\n</style>\n")
	}

	// The payload travels with the page; it is the contract this page was
	// assembled from and what a re-init would parse.
	b.WriteString("<script type=\"application/json\" id=\"toolbridge-payload\">")
	b.Write(payloadJSON)
	b.WriteString("</script>\n")

	b.WriteString("</head>\n<body>\n")

	// Header chrome: title plus the sign-in affordance the auth bridge drives.
	b.WriteString("<header class=\"tb-chrome\">\n")
	b.WriteString("  <span class=\"tb-title\">" + html.EscapeString(title) + "</span>\n")
	b.WriteString("  <span class=\"tb-auth\" id=\"tb-auth\" data-state=\"unknown\"></span>\n")
	b.WriteString("</header>\n")

	b.WriteString("<main class=\"tb-tool\" id=\"tb-tool\">\n")
	b.WriteString(p.Bundle.HTML)
	b.WriteString("\n</main>\n")

	b.WriteString("<footer class=\"tb-chrome\">\n")
	b.WriteString("  <a class=\"tb-remix\" id=\"tb-remix\" href=\"" + html.EscapeString(remixHref(p.ToolID, opts.StudioBaseURL)) + "\">Remix this tool</a>\n")
	b.WriteString("</footer>\n")

	b.WriteString(shell.RuntimeScripts(rt))
	b.WriteString(chromeScript(p.ToolID, opts.StudioBaseURL))
	if p.Bundle.JS != "" {
		b.WriteString("<script type=\"module\">\n" + shell.EscapeScriptClose(p.Bundle.JS) + "\n</script>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// BuildErrorPage is the visible failure state for a malformed payload.
func BuildErrorPage(reason string) string {
	resolved := theme.Resolve(theme.DefaultKey)
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Tool unavailable</title>\n")
	b.WriteString("<style>\n" + resolved.StyleBlock(darkSelector) + skeletonCSS + "</style>\n")
	b.WriteString("</head>\n<body>\n<main class=\"tb-tool tb-error\">\n")
	b.WriteString("  <h1>This tool could not be loaded</h1>\n")
	b.WriteString("  <p>" + html.EscapeString(reason) + "</p>\n")
	b.WriteString("</main>\n</body>\n</html>\n")
	return b.String()
}

// remixHref deep-links the authoring environment for this tool. Without a
// tool id the chrome script substitutes a best-effort slug derived from
// the page's own host name.
func remixHref(toolID, studioBase string) string {
	base := strings.TrimSuffix(studioBase, "/")
	if toolID != "" {
		return base + "/remix/" + toolID
	}
	return base + "/remix"
}

func chromeScript(toolID, studioBase string) string {
	cfg, err := json.Marshal(map[string]string{
		"toolId":     toolID,
		"studioBase": strings.TrimSuffix(studioBase, "/"),
	})
	if err != nil {
		cfg = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("<script>\n(function () {\n")
	b.WriteString("  var chrome = " + string(cfg) + ";\n")
	b.WriteString(`  var auth = document.getElementById('tb-auth');
  if (window.toolbridge && auth) {
    window.toolbridge.kit.auth.state().then(function (state) {
      auth.dataset.state = state.status;
      auth.textContent = state.status === 'signed-in' && state.user ? state.user.email : 'Sign in';
    });
  }
  if (!chrome.toolId && chrome.studioBase) {
    var remix = document.getElementById('tb-remix');
    if (remix) {
      var slug = window.location.hostname.split('.')[0] || '';
      remix.href = chrome.studioBase + '/remix/' + slug;
    }
  }
`)
	b.WriteString("})();\n</script>\n")
	return b.String()
}

// WriteSite materializes the published page plus its payload sidecar into
// dir, the shape the static host serves verbatim.
func WriteSite(dir string, p Payload, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating site directory: %w", err)
	}
	payloadJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "payload.json"), payloadJSON, 0o644); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	page := BuildPage(p, opts)
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0o644); err != nil {
		return fmt.Errorf("writing page: %w", err)
	}
	return nil
}

const skeletonCSS = `html, body {
  margin: 0;
  padding: 0;
  background: var(--tb-bg);
  color: var(--tb-fg);
  font-family: var(--tb-font);
}
.tb-chrome {
  display: flex;
  align-items: center;
  justify-content: space-between;
  padding: 0.75rem 1.25rem;
  border-bottom: 1px solid var(--tb-border);
  background: var(--tb-surface);
}
footer.tb-chrome {
  border-bottom: none;
  border-top: 1px solid var(--tb-border);
}
.tb-title {
  font-weight: 600;
}
.tb-auth {
  color: var(--tb-muted);
  font-size: 0.875rem;
}
.tb-tool {
  max-width: 48rem;
  margin: 0 auto;
  padding: 1.5rem 1.25rem;
}
.tb-remix {
  color: var(--tb-accent);
  text-decoration: none;
  font-size: 0.875rem;
}
.tb-error h1 {
  font-size: 1.25rem;
}
.tb-error p {
  color: var(--tb-muted);
}
`
