package sync

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/propsheet/internal/store"
)

// mockStore is a minimal in-memory store for sync tests.
type mockStore struct {
	drafts map[string]*store.Draft
}

func newMockStore() *mockStore {
	return &mockStore{drafts: make(map[string]*store.Draft)}
}

func (m *mockStore) SaveDraft(_ context.Context, d *store.Draft) error {
	cp := *d
	m.drafts[d.Key] = &cp
	return nil
}

func (m *mockStore) GetDraft(_ context.Context, key string) (*store.Draft, error) {
	d, ok := m.drafts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return d, nil
}

func (m *mockStore) ListDrafts(_ context.Context) ([]*store.Draft, error) {
	out := make([]*store.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockStore) DeleteDraft(_ context.Context, key string) error {
	if _, ok := m.drafts[key]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	delete(m.drafts, key)
	return nil
}

func (m *mockStore) Close() error { return nil }
