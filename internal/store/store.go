// Package store persists dialog drafts: the in-progress state of a dialog
// whose save could not reach the backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/idgen"
	"github.com/alfredjeanlab/propsheet/internal/model"
)

// ErrNotFound is returned when no draft exists for a key.
var ErrNotFound = errors.New("draft not found")

// Draft is the saved state of one dialog.
type Draft struct {
	ID        string      `json:"id"`
	Key       string      `json:"key"`
	NodeType  string      `json:"node_type"`
	Mode      model.Mode  `json:"mode"`
	State     model.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store defines the persistence interface for drafts. Drafts are unique by
// Key; saving an existing key replaces it.
type Store interface {
	SaveDraft(ctx context.Context, d *Draft) error
	GetDraft(ctx context.Context, key string) (*Draft, error)
	ListDrafts(ctx context.Context) ([]*Draft, error)
	DeleteDraft(ctx context.Context, key string) error

	// Lifecycle
	Close() error
}

// Prepare readies d for saving: it requires a key, assigns an id to new
// drafts and stamps UpdatedAt.
func Prepare(d *Draft, now time.Time) error {
	if d.Key == "" {
		return errors.New("draft key is required")
	}
	if d.ID == "" {
		d.ID = idgen.Draft()
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// EncodeState marshals a draft state for storage. Bookkeeping keys are
// dropped; a nil state is stored as an empty object.
func EncodeState(s model.State) ([]byte, error) {
	out := model.State{}
	for k, v := range s {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode draft state: %w", err)
	}
	return data, nil
}

// DecodeState unmarshals a stored draft state.
func DecodeState(data []byte) (model.State, error) {
	s := model.State{}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode draft state: %w", err)
	}
	return s, nil
}

// DraftKey identifies the dialog a draft belongs to: the node type, the
// object's scope path and, for saved objects, its id. Create and edit
// dialogs of the same object never share a key.
func DraftKey(nodeType string, mode model.Mode, scope string, objectID any) string {
	var b strings.Builder
	b.WriteString(nodeType)
	b.WriteByte(':')
	b.WriteString(string(mode))
	b.WriteByte(':')
	b.WriteString(scope)
	if id := FormatID(objectID); id != "" {
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// FormatID renders an object id. JSON numbers arrive as float64 and are
// printed without an exponent.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
