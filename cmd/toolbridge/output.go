package main

import (
	"fmt"
	"os"
)

// CLI feedback goes to stderr so command output proper (tool ids, rendered
// documents, JSON) stays pipeable on stdout.

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func feedback(color, prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(color, prefix+msg))
}

func printSuccess(format string, args ...any) {
	feedback(colorGreen, "✓ ", format, args...)
}

func printError(format string, args ...any) {
	feedback(colorRed, "✗ ", format, args...)
}

func printWarning(format string, args ...any) {
	feedback(colorYellow, "⚠ ", format, args...)
}

func printStep(format string, args ...any) {
	feedback(colorCyan, "→ ", format, args...)
}

// printStatus renders one labeled line of `toolbridge status`.
func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
