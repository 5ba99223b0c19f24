package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"PROPSHEET_BACKEND_URL", "PROPSHEET_AUTH_TOKEN", "PROPSHEET_NATS_URL", "PROPSHEET_DRAFT_DSN",
	"PROPSHEET_FETCH_TIMEOUT", "PROPSHEET_POLL_INTERVAL", "PROPSHEET_POLL_MAX_INTERVAL", "PROPSHEET_POLL_RETRY",
	"PROPSHEET_CATALOG_URL", "PROPSHEET_HTTP_ADDR", "PROPSHEET_GRPC_ADDR", "PROPSHEET_HEALTH_INTERVAL",
	"PROPSHEET_SYNC_INTERVAL", "PROPSHEET_SYNC_S3_BUCKET", "PROPSHEET_SYNC_S3_ENDPOINT",
	"PROPSHEET_SYNC_S3_REGION", "PROPSHEET_SYNC_S3_KEY", "PROPSHEET_SYNC_FILE",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_STATE_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "http://localhost:8080" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	for _, d := range []struct {
		name      string
		got, want time.Duration
	}{
		{"FetchTimeout", cfg.FetchTimeout, 30 * time.Second},
		{"PollInterval", cfg.PollInterval, time.Second},
		{"PollMaxInterval", cfg.PollMaxInterval, 10 * time.Second},
		{"PollRetry", cfg.PollRetry, 5 * time.Second},
		{"HealthInterval", cfg.HealthInterval, 15 * time.Second},
		{"SyncInterval", cfg.SyncInterval, 3 * time.Minute},
	} {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("SyncS3Region = %q", cfg.SyncS3Region)
	}
	if cfg.SyncS3Key != "propsheet/drafts.jsonl" {
		t.Errorf("SyncS3Key = %q", cfg.SyncS3Key)
	}
	if filepath.Base(cfg.DraftDSN) != "drafts.db" || cfg.DraftsInPostgres() {
		t.Errorf("DraftDSN = %q", cfg.DraftDSN)
	}
	if !errors.Is(cfg.RequireCatalog(), ErrNoCatalog) {
		t.Error("expected ErrNoCatalog without PROPSHEET_CATALOG_URL")
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	for k, v := range map[string]string{
		"PROPSHEET_BACKEND_URL":    "https://admin.example.com",
		"PROPSHEET_NATS_URL":       "nats://localhost:4222",
		"PROPSHEET_DRAFT_DSN":      "postgres://db/propsheet",
		"PROPSHEET_CATALOG_URL":    "postgres://db/app",
		"PROPSHEET_HTTP_ADDR":      ":3000",
		"PROPSHEET_POLL_INTERVAL":  "500ms",
		"PROPSHEET_SYNC_INTERVAL":  "10m",
		"PROPSHEET_SYNC_S3_BUCKET": "my-bucket",
		"PROPSHEET_SYNC_FILE":      "/tmp/drafts.jsonl",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "https://admin.example.com" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if !cfg.DraftsInPostgres() {
		t.Errorf("DraftsInPostgres = false for %q", cfg.DraftDSN)
	}
	if err := cfg.RequireCatalog(); err != nil {
		t.Errorf("RequireCatalog: %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.SyncInterval != 10*time.Minute {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if cfg.SyncS3Bucket != "my-bucket" || cfg.SyncFile != "/tmp/drafts.jsonl" {
		t.Errorf("sync = %q %q", cfg.SyncS3Bucket, cfg.SyncFile)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{"BadSyncInterval", map[string]string{"PROPSHEET_SYNC_INTERVAL": "not-a-duration"}},
		{"BadFetchTimeout", map[string]string{"PROPSHEET_FETCH_TIMEOUT": "soon"}},
		{"NegativeRetry", map[string]string{"PROPSHEET_POLL_RETRY": "-1s"}},
		{"MaxBelowInterval", map[string]string{"PROPSHEET_POLL_INTERVAL": "5s", "PROPSHEET_POLL_MAX_INTERVAL": "2s"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoadSyncDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PROPSHEET_SYNC_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0 (disabled)", cfg.SyncInterval)
	}
}

func TestStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/state")
	if got := StateDir(); got != "/var/state/propsheet" {
		t.Errorf("StateDir = %q", got)
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
