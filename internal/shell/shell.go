// Package shell builds the isolated execution document for a tool bundle.
// The produced string is rendered as the srcdoc of a sandboxed iframe with
// script execution allowed and same-origin parent access restricted; every
// host capability the tool needs is injected, never reached for.
package shell

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"

	"github.com/antonets/toolbridge/internal/theme"
)

//go:embed assets/bootstrap.js
var bootstrapJS string

// Bundle is the generated HTML/CSS/JS triple representing one micro-tool.
// Immutable once rendered; a new bundle fully replaces the document.
type Bundle struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// ColorMode selects which token set the document root starts in.
type ColorMode string

const (
	ModeLight ColorMode = "light"
	ModeDark  ColorMode = "dark"
)

// darkSelector scopes the dark token set; the builder applies the class to
// the root element when dark mode is requested.
const darkSelector = "html.tb-dark"

// Runtime carries the host state injected into the document's bootstrap.
// All of it travels by value into the sandbox; the tool script cannot
// reach the host page for more.
type Runtime struct {
	ToolID       string `json:"toolId"`
	APIBase      string `json:"apiBase"`
	MemoryMode   string `json:"memoryMode"`
	SessionID    string `json:"sessionId,omitempty"`
	AuthToken    string `json:"authToken,omitempty"`
	BridgeURL    string `json:"bridgeUrl,omitempty"`
	BridgeOrigin string `json:"bridgeOrigin,omitempty"`
}

// BuildDocument produces the complete document for a bundle. It is a pure
// function: identical inputs yield byte-identical output.
func BuildDocument(b Bundle, themeKey string, mode ColorMode, rt Runtime) string {
	resolved := theme.Resolve(themeKey)

	rootClass := ""
	if mode == ModeDark {
		rootClass = ` class="tb-dark"`
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n")
	doc.WriteString("<html" + rootClass + ">\n<head>\n<meta charset=\"utf-8\">\n")
	doc.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")

	// Theme tokens first, then tool CSS, so tool styles can reference the
	// tokens but are never overridden by them.
	doc.WriteString("<style data-toolbridge=\"theme\">\n")
	doc.WriteString(resolved.StyleBlock(darkSelector))
	doc.WriteString(baseDocumentCSS)
	doc.WriteString("</style>\n")
	if b.CSS != "" {
		doc.WriteString("<style data-toolbridge=\"tool\">\n" + b.CSS + "\n</style>\n")
	}
	doc.WriteString("</head>\n<body>\n")

	doc.WriteString(normalizeFragment(b.HTML))

	doc.WriteString("\n")
	doc.WriteString(RuntimeScripts(rt))
	if b.JS != "" {
		doc.WriteString("<script type=\"module\">\n" + EscapeScriptClose(b.JS) + "\n</script>\n")
	}
	doc.WriteString("</body>\n</html>\n")
	return doc.String()
}

// RuntimeScripts emits the config script and the bootstrap that installs
// window.toolbridge.kit. The published page and the sandboxed preview use
// the same scripts so tool code behaves identically in both. The config
// is JSON in a script tag; encoding/json escapes angle brackets so
// embedded markup cannot break out of it.
func RuntimeScripts(rt Runtime) string {
	cfg, err := json.Marshal(rt)
	if err != nil {
		cfg = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("<script>window.__TOOLBRIDGE_CONFIG__ = ")
	b.Write(cfg)
	b.WriteString(";</script>\n")
	b.WriteString("<script>\n" + bootstrapJS + "</script>\n")
	return b.String()
}

// Generators sometimes return a full document instead of a fragment.
// normalizeFragment unwraps such bundles to body content so the built
// document never nests html or body elements.
func normalizeFragment(src string) string {
	lower := strings.ToLower(src)
	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<body") {
		return src
	}

	node, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	body := findElement(node, "body")
	if body == nil {
		return src
	}

	var buf bytes.Buffer
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return src
		}
	}
	return buf.String()
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}

// EscapeScriptClose keeps a literal closing script tag inside the tool's
// JS from terminating the wrapping script element early. Every surface
// that inlines bundle JS into a script element must apply it.
func EscapeScriptClose(js string) string {
	return strings.ReplaceAll(js, "</script", "<\\/script")
}

// baseDocumentCSS gives every tool document a consistent canvas wired to
// the theme tokens.
const baseDocumentCSS = `html, body {
  margin: 0;
  padding: 0;
  background: var(--tb-bg);
  color: var(--tb-fg);
  font-family: var(--tb-font);
}
`
