package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/dialog"
	"github.com/alfredjeanlab/propsheet/internal/form"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/store"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

var nodesCmd = &cobra.Command{
	Use:     "nodes",
	Short:   "List the node types that have dialogs",
	GroupID: "dialogs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s.reg.Types())
		}
		for _, typ := range s.reg.Types() {
			n, _ := s.reg.Get(typ)
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s %s\n", typ, n.Label, ui.RenderMuted("("+string(n.CacheLevel)+")"))
		}
		return nil
	},
}

// waitLoaded blocks until no control is loading options or timeout passes.
func waitLoaded(f *form.Form, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		loading := false
		for _, c := range f.Controls() {
			if c.Loading {
				loading = true
				break
			}
		}
		if !loading {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

var schemaCmd = &cobra.Command{
	Use:     "schema <node>",
	Short:   "Show the controls a node's dialog renders",
	GroupID: "dialogs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		sets, _ := cmd.Flags().GetStringArray("set")

		mode, err := parseMode(modeFlag)
		if err != nil {
			return err
		}
		init, err := parseSets(sets)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		schema, err := s.schemaFor(args[0], mode)
		if err != nil {
			return err
		}
		f, err := form.New(schema, form.Options{
			Mode: mode, ServerVersion: serverVersion, NodeInfo: nodeInfo,
			InitValues: init, Resolver: s.resolver, Publisher: s.publisher, Logger: logger,
		})
		if err != nil {
			return err
		}
		defer f.Close()
		waitLoaded(f, cfg.FetchTimeout)

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), f.Controls())
		}
		return printControls(cmd.OutOrStdout(), f.Controls())
	},
}

var validateCmd = &cobra.Command{
	Use:     "validate <node> <file>",
	Short:   "Validate an object's values against its dialog",
	Long:    "Validate reads a JSON object (\"-\" for stdin) and runs the same checks the dialog runs before saving.",
	GroupID: "dialogs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := parseMode(modeFlag)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		schema, err := s.schemaFor(args[0], mode)
		if err != nil {
			return err
		}
		values, err := readState(args[1], schema)
		if err != nil {
			return err
		}
		f, err := form.New(schema, form.Options{
			Mode: mode, ServerVersion: serverVersion, NodeInfo: nodeInfo,
			InitValues: values, Resolver: s.resolver, Publisher: s.publisher, Logger: logger,
		})
		if err != nil {
			return err
		}
		defer f.Close()

		failed := f.Validate()
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]any{"valid": !failed, "errors": f.Errors()}); err != nil {
				return err
			}
		} else if failed {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderError("invalid"))
			printFieldErrors(cmd.OutOrStdout(), f.Fields(), f.Errors())
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderOK("valid"))
		}
		if failed {
			return errors.New("validation failed")
		}
		return nil
	},
}

var optionsCmd = &cobra.Command{
	Use:     "options <node> <field>",
	Short:   "Resolve the options of a select field",
	Long:    "Resolve the options of a select field. Use collection/column for a column of a collection.",
	GroupID: "dialogs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, _ := cmd.Flags().GetStringArray("set")
		state, err := parseSets(sets)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		schema, err := s.schemaFor(args[0], model.ModeCreate)
		if err != nil {
			return err
		}

		var opts []model.Option
		if coll, col, ok := strings.Cut(args[1], "/"); ok {
			f, err := form.New(schema, form.Options{
				Mode: model.ModeCreate, ServerVersion: serverVersion, NodeInfo: nodeInfo,
				InitValues: state, Resolver: s.resolver, Publisher: s.publisher, Logger: logger,
			})
			if err != nil {
				return err
			}
			defer f.Close()
			opts, err = f.RowOptions(cmd.Context(), coll, nil, col)
			if err != nil {
				return err
			}
		} else {
			fd := schema.Field(args[1])
			if fd == nil {
				return fmt.Errorf("%s has no field %q", args[0], args[1])
			}
			if opts, err = s.resolver.Resolve(cmd.Context(), schema.NodeType, fd, nodeInfo, state); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), opts)
		}
		return printOptions(cmd.OutOrStdout(), opts)
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <node> <file>",
	Short: "Create or update an object through its dialog",
	Long: `Apply opens the node's dialog, lays the JSON values from <file> over it
and presses Save. Without --id the object is created. When the backend
loses its database connection the values are kept as a draft and restored
by the next apply for the same object.`,
	GroupID: "dialogs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		noDrafts, _ := cmd.Flags().GetBool("no-drafts")
		return runApply(cmd.Context(), cmd, args[0], args[1], id, !noDrafts)
	},
}

func runApply(ctx context.Context, cmd *cobra.Command, nodeType, path, id string, keepDrafts bool) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var drafts store.Store
	if keepDrafts {
		if drafts, err = openDrafts(); err != nil {
			return err
		}
		defer drafts.Close()
	}

	mode := model.ModeCreate
	var objectID any
	if id != "" {
		mode, objectID = model.ModeEdit, id
	}

	d := dialog.New(dialog.Config{
		Registry:  s.reg,
		Backend:   getBackend(),
		Resolver:  s.resolver,
		Publisher: s.publisher,
		Drafts:    drafts,
		Logger:    logger,
	})
	if err := d.Main(dialog.Params{
		NodeType: nodeType, Mode: mode, ServerVersion: serverVersion,
		NodeInfo: nodeInfo, ObjectID: objectID,
	}); err != nil {
		return err
	}
	if err := d.Build(); err != nil {
		return err
	}
	if err := d.Prepare(ctx); err != nil {
		return err
	}
	setup := d.Setup()
	if d.Restored() {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarn("restored unsaved changes from a previous attempt"))
	}

	values, err := readState(path, d.Form().Schema())
	if err != nil {
		d.Form().Close()
		return err
	}
	d.Form().Restore(values)

	outcome, err := d.Callback(ctx, dialog.CloseEvent{Button: dialog.ButtonSave})
	if err != nil {
		var fve *dialog.FieldValidationError
		if errors.As(err, &fve) {
			printFieldErrors(cmd.ErrOrStderr(), d.Form().Fields(), d.Form().Errors())
		}
		if errors.Is(err, dialog.ErrConnectionLost) && keepDrafts {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarn("connection lost; values kept as a draft"))
		}
		// Closing through a button would discard the draft just kept.
		if outcome == dialog.KeepOpen {
			d.Form().Close()
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.RenderOK("saved"), setup.Title)
	return nil
}

func init() {
	schemaCmd.Flags().String("mode", "create", "dialog mode (create, edit, properties)")
	schemaCmd.Flags().StringArray("set", nil, "initial value as key=value (repeatable)")
	validateCmd.Flags().String("mode", "create", "dialog mode (create, edit, properties)")
	optionsCmd.Flags().StringArray("set", nil, "state value as key=value (repeatable)")
	applyCmd.Flags().String("id", "", "object id to update; omit to create")
	applyCmd.Flags().Bool("no-drafts", false, "do not keep or restore drafts")
}
