package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/propsheet/internal/config"
	"github.com/alfredjeanlab/propsheet/internal/options"
	"github.com/alfredjeanlab/propsheet/internal/ui"
)

// fakeBackend serves the option and object endpoints the schema dialog uses.
type fakeBackend struct {
	mu      sync.Mutex
	created []map[string]any
	down    bool
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/options/roles":
		_, _ = w.Write([]byte(`{"data":[{"label":"postgres","value":"postgres"},{"label":"app","value":"app"}]}`))
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/objects/schema/"):
		if b.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server closed the connection","info":"CONNECTION_LOST"}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.created = append(b.created, body)
		body["oid"] = 90001
		_ = json.NewEncoder(w).Encode(map[string]any{"data": body})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}
}

// setupCLI points the command globals at a fake backend and a temp state dir.
func setupCLI(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg = &config.Config{
		BackendURL:   srv.URL,
		FetchTimeout: 2 * time.Second,
		DraftDSN:     filepath.Join(dir, "drafts.db"),
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	backend = nil
	jsonOutput = false
	serverVersion = 160000
	nodeInfo = options.NodeInfo{ServerID: "1", DatabaseID: "16384"}
	ui.ForceNoColor()
	t.Cleanup(func() {
		if backend != nil {
			backend.Close()
			backend = nil
		}
	})
	return fb
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "values.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func run(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetContext(context.Background())
	err := c.RunE(c, args)
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	setupCLI(t)

	out, err := run(t, validateCmd, "schema", writeFile(t, `{"name":"sales","namespaceowner":"postgres"}`))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, validateCmd, "schema", writeFile(t, `{"namespaceowner":"postgres"}`))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "name:") || !strings.Contains(out, "cannot be empty") {
		t.Errorf("missing field error in output:\n%s", out)
	}

	if _, err := run(t, validateCmd, "schema", writeFile(t, `{"bogus":1}`)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestOptionsCommand(t *testing.T) {
	setupCLI(t)

	out, err := run(t, optionsCmd, "schema", "namespaceowner")
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if !strings.Contains(out, "postgres") || !strings.Contains(out, "app") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, optionsCmd, "schema", "nope"); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestApplyCreatesAndKeepsDraftOnConnectionLoss(t *testing.T) {
	fb := setupCLI(t)
	values := writeFile(t, `{"name":"sales","namespaceowner":"postgres"}`)

	fb.down = true
	if _, err := run(t, applyCmd, "schema", values); err == nil {
		t.Fatal("expected connection loss")
	}

	out, err := run(t, draftsListCmd)
	if err != nil {
		t.Fatalf("drafts list: %v", err)
	}
	if !strings.Contains(out, "schema:create:1/16384") {
		t.Fatalf("draft not kept:\n%s", out)
	}

	fb.mu.Lock()
	fb.down = false
	fb.mu.Unlock()
	out, err = run(t, applyCmd, "schema", values)
	if err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	if !strings.Contains(out, "restored") || !strings.Contains(out, "saved") {
		t.Errorf("output = %q", out)
	}
	if len(fb.created) != 1 || fb.created[0]["name"] != "sales" {
		t.Errorf("created = %v", fb.created)
	}

	out, _ = run(t, draftsListCmd)
	if !strings.Contains(out, "no drafts") {
		t.Errorf("draft not cleared after save:\n%s", out)
	}
}

func TestDraftsExportImport(t *testing.T) {
	fb := setupCLI(t)
	fb.down = true
	_, _ = run(t, applyCmd, "schema", writeFile(t, `{"name":"sales","namespaceowner":"postgres"}`))

	export := filepath.Join(t.TempDir(), "drafts.jsonl")
	if _, err := run(t, draftsExportCmd, export); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := run(t, draftsDeleteCmd, "schema:create:1/16384"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err := run(t, draftsImportCmd, export)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 1 drafts") {
		t.Errorf("output = %q", out)
	}
}

func TestParseSets(t *testing.T) {
	st, err := parseSets([]string{"name=sales", "all_table=true", "n=5", "cols=[\"a\"]"})
	if err != nil {
		t.Fatal(err)
	}
	if st["name"] != "sales" || st["all_table"] != true || st["n"] != float64(5) {
		t.Errorf("state = %v", st)
	}
	if _, err := parseSets([]string{"novalue"}); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	ui.SetColor(true)
	t.Cleanup(ui.ForceNoColor)
	in := "Dialogs:\n  schema      Show the controls\n      --mode string   dialog mode (default \"create\")\n"
	out := colorizeHelpOutput(in)
	if out == in || !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI styling, got %q", out)
	}
}
