package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	DraftCount int       `json:"draft_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExportJSONL writes every draft in the store as JSONL to w, sorted by key.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	drafts, err := s.ListDrafts(ctx)
	if err != nil {
		return fmt.Errorf("list drafts: %w", err)
	}
	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].Key < drafts[j].Key
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		DraftCount: len(drafts),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, d := range drafts {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode draft %s: %w", d.Key, err)
		}
		if err := enc.Encode(record{Type: "draft", Data: data}); err != nil {
			return fmt.Errorf("encode draft %s: %w", d.Key, err)
		}
	}
	return nil
}

// ImportJSONL reads an export and saves every draft in it, replacing drafts
// with the same key. Unknown record types are skipped. It returns the
// number of drafts saved.
func ImportJSONL(ctx context.Context, s store.Store, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	n, line := 0, 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec struct {
			Type    string          `json:"type"`
			Version string          `json:"version"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case "header":
			if rec.Version != "1" {
				return n, fmt.Errorf("line %d: unsupported export version %q", line, rec.Version)
			}
		case "draft":
			var d store.Draft
			if err := json.Unmarshal(rec.Data, &d); err != nil {
				return n, fmt.Errorf("line %d: %w", line, err)
			}
			if d.Key == "" {
				return n, fmt.Errorf("line %d: %w", line, errors.New("draft without key"))
			}
			if err := s.SaveDraft(ctx, &d); err != nil {
				return n, fmt.Errorf("line %d: %w", line, err)
			}
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read export: %w", err)
	}
	return n, nil
}
