// Package ui renders terminal output for the propsheet CLI.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorError  = 167 // red
	colorOK     = 114 // green
	colorWarn   = 179 // yellow
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderError returns s in red. Used for field errors and job stderr.
func RenderError(s string) string { return render(colorError, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderWarn returns s in yellow.
func RenderWarn(s string) string { return render(colorWarn, s) }

// Status renders a one-word state label: "ok" green, "disabled" and
// "readonly" muted, anything carrying an error red.
func Status(label string, failed bool) string {
	switch {
	case failed:
		return RenderError(label)
	case label == "ok":
		return RenderOK(label)
	case label == "loading":
		return RenderWarn(label)
	default:
		return RenderMuted(label)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor enables or disables color output globally.
func SetColor(on bool) {
	noColor = !on
}
