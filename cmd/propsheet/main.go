package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/client"
	"github.com/alfredjeanlab/propsheet/internal/config"
	"github.com/alfredjeanlab/propsheet/internal/options"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

var (
	cfg        *config.Config
	jsonOutput bool
	verbose    bool

	backendURL    string
	serverVersion int
	nodeInfo      options.NodeInfo

	backend client.Backend
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "propsheet <command>",
	Short:         "Inspect, validate and submit schema-driven object dialogs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = newLogger(level)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		applyActiveRemote(cfg)
		if backendURL != "" {
			cfg.BackendURL = backendURL
		}
		if !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if backend != nil {
			backend.Close()
		}
	},
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newInfoLogger() *slog.Logger { return newLogger(slog.LevelInfo) }

// getBackend returns the admin backend client, creating it on first use.
func getBackend() client.Backend {
	if backend == nil {
		backend = client.NewHTTPClient(cfg.BackendURL, cfg.AuthToken, cfg.FetchTimeout)
	}
	return backend
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&backendURL, "backend", "", "admin backend URL (overrides PROPSHEET_BACKEND_URL and the active remote)")
	pf.BoolVar(&jsonOutput, "json", false, "output as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	pf.IntVar(&serverVersion, "server-version", 160000, "PostgreSQL server version number, e.g. 150004")
	pf.StringVar(&nodeInfo.ServerID, "server-id", "1", "server node id")
	pf.StringVar(&nodeInfo.DatabaseID, "database-id", "", "database node id")
	pf.StringVar(&nodeInfo.SchemaID, "schema-id", "", "schema node id")

	rootCmd.AddGroup(
		&cobra.Group{ID: "dialogs", Title: "Dialogs:"},
		&cobra.Group{ID: "drafts", Title: "Drafts:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Dialogs
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(jobCmd)

	// Drafts
	rootCmd.AddCommand(draftsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
