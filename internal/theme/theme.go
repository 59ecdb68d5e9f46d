// Package theme resolves named design-token presets into the CSS variable
// sets injected above every rendered tool bundle.
package theme

import (
	"sort"
	"strings"
)

// DefaultKey is the preset used when an unknown key is requested.
const DefaultKey = "slate"

// Preset overrides a subset of the base tokens, with a second set of
// overrides applied only in dark mode.
type Preset struct {
	Tokens        map[string]string
	DarkOverrides map[string]string
}

// Resolved is a fully merged token set for both color modes.
type Resolved struct {
	Key   string
	Light map[string]string
	Dark  map[string]string
}

// Base token set every preset is merged over. Tool CSS references these
// variables; the shell guarantees they are defined before tool styles load.
var baseLight = map[string]string{
	"--tb-bg":      "#f8fafc",
	"--tb-surface": "#ffffff",
	"--tb-fg":      "#0f172a",
	"--tb-muted":   "#64748b",
	"--tb-accent":  "#2563eb",
	"--tb-border":  "#e2e8f0",
	"--tb-radius":  "0.5rem",
	"--tb-font":    "system-ui, -apple-system, sans-serif",
}

var baseDark = map[string]string{
	"--tb-bg":      "#0f172a",
	"--tb-surface": "#1e293b",
	"--tb-fg":      "#f1f5f9",
	"--tb-muted":   "#94a3b8",
	"--tb-accent":  "#3b82f6",
	"--tb-border":  "#334155",
}

var presets = map[string]Preset{
	"slate": {},
	"ocean": {
		Tokens: map[string]string{
			"--tb-bg":     "#f0f9ff",
			"--tb-accent": "#0891b2",
			"--tb-border": "#bae6fd",
		},
		DarkOverrides: map[string]string{
			"--tb-bg":     "#082f49",
			"--tb-accent": "#22d3ee",
		},
	},
	"forest": {
		Tokens: map[string]string{
			"--tb-bg":     "#f0fdf4",
			"--tb-accent": "#16a34a",
			"--tb-border": "#bbf7d0",
		},
		DarkOverrides: map[string]string{
			"--tb-bg":     "#052e16",
			"--tb-accent": "#4ade80",
		},
	},
	"sunset": {
		Tokens: map[string]string{
			"--tb-bg":     "#fff7ed",
			"--tb-accent": "#ea580c",
			"--tb-border": "#fed7aa",
		},
		DarkOverrides: map[string]string{
			"--tb-bg":     "#431407",
			"--tb-accent": "#fb923c",
		},
	},
	"mono": {
		Tokens: map[string]string{
			"--tb-bg":     "#fafafa",
			"--tb-accent": "#171717",
			"--tb-border": "#d4d4d4",
			"--tb-radius": "0",
		},
		DarkOverrides: map[string]string{
			"--tb-accent": "#fafafa",
		},
	},
}

// Keys returns the known preset keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(presets))
	for k := range presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Known reports whether key names a defined preset.
func Known(key string) bool {
	_, ok := presets[key]
	return ok
}

// Resolve merges the named preset over the base token sets. Unknown keys
// fall back to the default preset rather than erroring.
func Resolve(key string) Resolved {
	p, ok := presets[key]
	if !ok {
		key = DefaultKey
		p = presets[key]
	}

	light := make(map[string]string, len(baseLight))
	for k, v := range baseLight {
		light[k] = v
	}
	for k, v := range p.Tokens {
		light[k] = v
	}

	// Dark starts from light so preset light tokens carry over unless
	// specifically overridden.
	dark := make(map[string]string, len(light))
	for k, v := range light {
		dark[k] = v
	}
	for k, v := range baseDark {
		dark[k] = v
	}
	for k, v := range p.DarkOverrides {
		dark[k] = v
	}

	return Resolved{Key: key, Light: light, Dark: dark}
}

// StyleBlock renders the resolved tokens as CSS: light tokens at :root and
// dark tokens under darkSelector. Output is deterministic for identical inputs.
func (r Resolved) StyleBlock(darkSelector string) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	writeVars(&b, r.Light)
	b.WriteString("}\n")
	b.WriteString(darkSelector + " {\n")
	writeVars(&b, r.Dark)
	b.WriteString("}\n")
	return b.String()
}

func writeVars(b *strings.Builder, vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("  " + k + ": " + vars[k] + ";\n")
	}
}
