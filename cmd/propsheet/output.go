package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/propsheet/internal/form"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/store"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func controlState(c form.Control) (string, bool) {
	switch {
	case c.Error != "":
		return "error", true
	case c.Loading:
		return "loading", false
	case !c.Visible:
		return "hidden", false
	case c.Disabled:
		return "disabled", false
	case c.Readonly:
		return "readonly", false
	}
	return "ok", false
}

func printControls(w io.Writer, controls []form.Control) error {
	width := ui.Width(os.Stdout, 120)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tTYPE\tGROUP\tSTATE\tVALUE")
	for _, c := range controls {
		state, failed := controlState(c)
		value := ""
		if !model.IsEmpty(c.Value) {
			value = ui.Truncate(fmt.Sprint(c.Value), width/3)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Label, c.Type, c.Group, ui.Status(state, failed), value)
	}
	return tw.Flush()
}

func printFieldErrors(w io.Writer, fields []*model.Field, errs model.ErrorMap) {
	for _, f := range fields {
		if msg := errs.Message(f.ID); msg != "" {
			fmt.Fprintf(w, "  %s %s\n", ui.RenderAccent(f.ID+":"), ui.RenderError(msg))
		}
	}
}

func printOptions(w io.Writer, opts []model.Option) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VALUE\tLABEL")
	for _, o := range opts {
		fmt.Fprintf(tw, "%v\t%s\n", o.Value, o.Label)
	}
	return tw.Flush()
}

func printDrafts(w io.Writer, drafts []*store.Draft) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNODE\tMODE\tUPDATED\tFIELDS")
	for _, d := range drafts {
		keys := make([]string, 0, len(d.State))
		for k := range d.State {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Key, d.NodeType, d.Mode,
			d.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			ui.RenderMuted(strings.Join(keys, ",")))
	}
	return tw.Flush()
}
