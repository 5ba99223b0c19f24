package store

import (
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/idgen"
	"github.com/alfredjeanlab/propsheet/internal/model"
)

func TestDraftKey(t *testing.T) {
	for _, tc := range []struct {
		name     string
		nodeType string
		mode     model.Mode
		scope    string
		id       any
		want     string
	}{
		{"create", "publication", model.ModeCreate, "1/16384", nil, "publication:create:1/16384"},
		{"empty id", "publication", model.ModeCreate, "1/16384", "", "publication:create:1/16384"},
		{"int id", "schema", model.ModeEdit, "1/16384", 2200, "schema:edit:1/16384:2200"},
		{"json number", "schema", model.ModeEdit, "1/16384", float64(1650000), "schema:edit:1/16384:1650000"},
		{"string id", "pga_jobstep", model.ModeEdit, "1", "12", "pga_jobstep:edit:1:12"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := DraftKey(tc.nodeType, tc.mode, tc.scope, tc.id); got != tc.want {
				t.Errorf("DraftKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	d := &Draft{}
	if err := Prepare(d, time.Now()); err == nil {
		t.Fatal("expected error for missing key")
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	d = &Draft{Key: "schema:create:1/5"}
	if err := Prepare(d, now); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !strings.HasPrefix(d.ID, idgen.PrefixDraft) {
		t.Errorf("ID = %q, want %s prefix", d.ID, idgen.PrefixDraft)
	}
	if d.UpdatedAt.Location() != time.UTC || !d.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v in UTC", d.UpdatedAt, now)
	}

	id := d.ID
	if err := Prepare(d, now); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if d.ID != id {
		t.Errorf("ID changed from %q to %q", id, d.ID)
	}
}

func TestEncodeDecodeState(t *testing.T) {
	data, err := EncodeState(model.State{"name": "s1", model.OrigDataKey: model.State{"name": "s"}})
	if err != nil {
		t.Fatalf("EncodeState() error = %v", err)
	}
	if string(data) != `{"name":"s1"}` {
		t.Errorf("EncodeState() = %s, want bookkeeping keys dropped", data)
	}

	data, err = EncodeState(nil)
	if err != nil || string(data) != `{}` {
		t.Errorf("EncodeState(nil) = %s, %v", data, err)
	}

	s, err := DecodeState(nil)
	if err != nil || len(s) != 0 || s == nil {
		t.Errorf("DecodeState(nil) = %#v, %v", s, err)
	}
	if _, err := DecodeState([]byte("{")); err == nil {
		t.Error("expected error for malformed state")
	}
}
