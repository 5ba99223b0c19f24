package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/store"
	draftsync "github.com/alfredjeanlab/propsheet/internal/sync"
)

var draftsCmd = &cobra.Command{
	Use:     "drafts",
	Short:   "Manage dialog values kept after a lost connection",
	GroupID: "drafts",
}

// withDrafts opens the draft store for the duration of fn.
func withDrafts(fn func(store.Store) error) error {
	s, err := openDrafts()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrafts(func(s store.Store) error {
			drafts, err := s.ListDrafts(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), drafts)
			}
			if len(drafts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no drafts")
				return nil
			}
			return printDrafts(cmd.OutOrStdout(), drafts)
		})
	},
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a draft's values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrafts(func(s store.Store) error {
			d, err := s.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("draft %q: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

var draftsDeleteCmd = &cobra.Command{
	Use:   "delete <key>...",
	Short: "Delete drafts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrafts(func(s store.Store) error {
			var errs []error
			for _, key := range args {
				if err := s.DeleteDraft(cmd.Context(), key); err != nil {
					errs = append(errs, fmt.Errorf("draft %q: %w", key, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			}
			return errors.Join(errs...)
		})
	},
}

var draftsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write all drafts as JSONL to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrafts(func(s store.Store) error {
			if len(args) == 0 {
				return draftsync.ExportJSONL(cmd.Context(), s, cmd.OutOrStdout())
			}
			var buf bytes.Buffer
			if err := draftsync.ExportJSONL(cmd.Context(), s, &buf); err != nil {
				return err
			}
			return draftsync.NewFileDestination(args[0]).Write(cmd.Context(), buf.Bytes())
		})
	},
}

var draftsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load drafts from a JSONL export (\"-\" for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return withDrafts(func(s store.Store) error {
			n, err := draftsync.ImportJSONL(cmd.Context(), s, r)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d drafts\n", n)
			return err
		})
	},
}

// syncDestinations builds the backup targets configured through
// PROPSHEET_SYNC_*.
func syncDestinations(ctx context.Context) ([]draftsync.Destination, error) {
	var dests []draftsync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := draftsync.NewS3Destination(ctx, draftsync.S3Config{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	if cfg.SyncFile != "" {
		dests = append(dests, draftsync.NewFileDestination(cfg.SyncFile))
	}
	return dests, nil
}

var draftsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Back up drafts to the configured sync destinations now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, err := syncDestinations(cmd.Context())
		if err != nil {
			return err
		}
		if len(dests) == 0 {
			return errors.New("no sync destination configured (set PROPSHEET_SYNC_S3_BUCKET or PROPSHEET_SYNC_FILE)")
		}
		return withDrafts(func(s store.Store) error {
			return draftsync.NewScheduler(s, dests, 0, logger).SyncOnce(cmd.Context())
		})
	},
}

var draftsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore drafts from the first configured sync destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, err := syncDestinations(cmd.Context())
		if err != nil {
			return err
		}
		if len(dests) == 0 {
			return errors.New("no sync destination configured")
		}
		src, ok := dests[0].(draftsync.Source)
		if !ok {
			return errors.New("sync destination cannot be read back")
		}
		data, err := src.Read(cmd.Context())
		if err != nil {
			return err
		}
		return withDrafts(func(s store.Store) error {
			n, err := draftsync.ImportJSONL(cmd.Context(), s, bytes.NewReader(data))
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d drafts\n", n)
			return err
		})
	},
}

func init() {
	draftsCmd.AddCommand(draftsListCmd)
	draftsCmd.AddCommand(draftsShowCmd)
	draftsCmd.AddCommand(draftsDeleteCmd)
	draftsCmd.AddCommand(draftsExportCmd)
	draftsCmd.AddCommand(draftsImportCmd)
	draftsCmd.AddCommand(draftsPushCmd)
	draftsCmd.AddCommand(draftsPullCmd)
}
