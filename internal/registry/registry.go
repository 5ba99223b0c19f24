// Package registry maps node types to their schema constructors. A Registry
// is built once at startup and passed to whatever opens dialogs.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

var (
	ErrDuplicateNode = errors.New("registry: node type already registered")
	ErrUnknownNode   = errors.New("registry: unknown node type")
)

// FieldOptions carries the context a schema constructor may depend on.
type FieldOptions struct {
	ServerVersion int
	NodeInfo      options.NodeInfo
	Mode          model.Mode
}

// Node describes one editable object type.
type Node struct {
	Type       string
	Label      string
	CacheLevel model.CacheLevel

	// URL is the object endpoint, relative to the backend. The object id is
	// appended for reads and updates.
	URL string

	Schema func(FieldOptions) *model.Schema
}

// Build constructs the node's schema for opts. The node type is filled in
// when the constructor leaves it empty.
func (n *Node) Build(opts FieldOptions) *model.Schema {
	s := n.Schema(opts)
	if s.NodeType == "" {
		s.NodeType = n.Type
	}
	return s
}

// Registry holds at most one Node per type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register adds n. The schema is built once with default options and
// checked for structural errors.
func (r *Registry) Register(n Node) error {
	if n.Type == "" {
		return errors.New("registry: node type is required")
	}
	if n.Schema == nil {
		return fmt.Errorf("registry: node %s has no schema", n.Type)
	}
	if err := n.Build(FieldOptions{Mode: model.ModeCreate}).Check(); err != nil {
		return fmt.Errorf("registry: node %s: %w", n.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.Type)
	}
	r.nodes[n.Type] = &n
	return nil
}

// Get returns the node registered for typ.
func (r *Registry) Get(typ string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[typ]
	return n, ok
}

// MustGet is Get for callers that registered typ themselves.
func (r *Registry) MustGet(typ string) *Node {
	n, ok := r.Get(typ)
	if !ok {
		panic(fmt.Sprintf("registry: node %q not registered", typ))
	}
	return n
}

// Schema builds the schema of typ for opts.
func (r *Registry) Schema(typ string, opts FieldOptions) (*model.Schema, error) {
	n, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, typ)
	}
	return n.Build(opts), nil
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for t := range r.nodes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
