// Package config loads process configuration from PROPSHEET_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoCatalog is returned by RequireCatalog when PROPSHEET_CATALOG_URL is unset.
var ErrNoCatalog = errors.New("PROPSHEET_CATALOG_URL is required")

type Config struct {
	BackendURL string // PROPSHEET_BACKEND_URL (default "http://localhost:8080")
	AuthToken  string // PROPSHEET_AUTH_TOKEN (optional, empty = auth disabled)
	NATSURL    string // PROPSHEET_NATS_URL (optional, empty = in-process events)
	DraftDSN   string // PROPSHEET_DRAFT_DSN (postgres:// URL or sqlite path; default under the state dir)

	FetchTimeout    time.Duration // PROPSHEET_FETCH_TIMEOUT (default 30s)
	PollInterval    time.Duration // PROPSHEET_POLL_INTERVAL (default 1s)
	PollMaxInterval time.Duration // PROPSHEET_POLL_MAX_INTERVAL (default 10s)
	PollRetry       time.Duration // PROPSHEET_POLL_RETRY (default 5s)

	// Catalog server settings
	CatalogURL     string        // PROPSHEET_CATALOG_URL (required by serve)
	HTTPAddr       string        // PROPSHEET_HTTP_ADDR (default ":8080")
	GRPCAddr       string        // PROPSHEET_GRPC_ADDR (default ":9090")
	HealthInterval time.Duration // PROPSHEET_HEALTH_INTERVAL (default 15s)

	// Draft sync settings
	SyncInterval   time.Duration // PROPSHEET_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // PROPSHEET_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // PROPSHEET_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // PROPSHEET_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // PROPSHEET_SYNC_S3_KEY (default "propsheet/drafts.jsonl")
	SyncFile       string        // PROPSHEET_SYNC_FILE (enables a local file copy when set)
}

func Load() (*Config, error) {
	c := &Config{
		BackendURL:     envOrDefault("PROPSHEET_BACKEND_URL", "http://localhost:8080"),
		AuthToken:      os.Getenv("PROPSHEET_AUTH_TOKEN"),
		NATSURL:        os.Getenv("PROPSHEET_NATS_URL"),
		DraftDSN:       envOrDefault("PROPSHEET_DRAFT_DSN", filepath.Join(StateDir(), "drafts.db")),
		CatalogURL:     os.Getenv("PROPSHEET_CATALOG_URL"),
		HTTPAddr:       envOrDefault("PROPSHEET_HTTP_ADDR", ":8080"),
		GRPCAddr:       envOrDefault("PROPSHEET_GRPC_ADDR", ":9090"),
		SyncS3Bucket:   os.Getenv("PROPSHEET_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("PROPSHEET_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("PROPSHEET_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("PROPSHEET_SYNC_S3_KEY", "propsheet/drafts.jsonl"),
		SyncFile:       os.Getenv("PROPSHEET_SYNC_FILE"),
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"PROPSHEET_FETCH_TIMEOUT", "30s", &c.FetchTimeout},
		{"PROPSHEET_POLL_INTERVAL", "1s", &c.PollInterval},
		{"PROPSHEET_POLL_MAX_INTERVAL", "10s", &c.PollMaxInterval},
		{"PROPSHEET_POLL_RETRY", "5s", &c.PollRetry},
		{"PROPSHEET_HEALTH_INTERVAL", "15s", &c.HealthInterval},
		{"PROPSHEET_SYNC_INTERVAL", "3m", &c.SyncInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: negative duration %v", d.key, v)
		}
		*d.dst = v
	}
	if c.PollMaxInterval < c.PollInterval {
		return nil, fmt.Errorf("PROPSHEET_POLL_MAX_INTERVAL (%v) is below PROPSHEET_POLL_INTERVAL (%v)", c.PollMaxInterval, c.PollInterval)
	}

	return c, nil
}

// RequireCatalog checks the settings the catalog server cannot run without.
func (c *Config) RequireCatalog() error {
	if c.CatalogURL == "" {
		return ErrNoCatalog
	}
	return nil
}

// DraftsInPostgres reports whether DraftDSN names a PostgreSQL database
// rather than a sqlite file.
func (c *Config) DraftsInPostgres() bool {
	return strings.HasPrefix(c.DraftDSN, "postgres://") || strings.HasPrefix(c.DraftDSN, "postgresql://")
}

// StateDir is where the CLI keeps local state: $XDG_STATE_HOME/propsheet,
// falling back to ~/.local/state/propsheet.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "propsheet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "propsheet")
	}
	return filepath.Join(home, ".local", "state", "propsheet")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
