package main

import (
	"bytes"
	"io"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/ui"
)

// helpRule restyles one capture group of every match of re.
type helpRule struct {
	re    *regexp.Regexp
	group int
	style func(string) string
}

var helpRules = []helpRule{
	// "Dialogs:", "Drafts:", "Flags:" section headers.
	{regexp.MustCompile(`(?m)^([A-Z][\w ]*):[ \t]*$`), 1, ui.RenderAccent},
	// Subcommand names in the command listing.
	{regexp.MustCompile(`(?m)^ {2}([a-z][\w-]*) {2,}`), 1, ui.RenderCommand},
	// Flag value types.
	{regexp.MustCompile(`--?[\w-]+ (string|int|duration|strings|stringArray|stringToString)\b`), 1, ui.RenderMuted},
	{regexp.MustCompile(`(\(default [^)]*\))`), 1, ui.RenderMuted},
}

func (r helpRule) apply(s string) string {
	var out bytes.Buffer
	last := 0
	for _, m := range r.re.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[2*r.group], m[2*r.group+1]
		out.WriteString(s[last:start])
		out.WriteString(r.style(s[start:end]))
		last = end
	}
	out.WriteString(s[last:])
	return out.String()
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.apply(s)
	}
	return s
}

// colorizedHelpFunc renders usage into a buffer and restyles it when stdout
// is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if !ui.ShouldUseColor(os.Stdout) {
			_ = cmd.Usage()
			return
		}
		w := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(w)
		_, _ = io.WriteString(w, colorizeHelpOutput(buf.String()))
	}
}
