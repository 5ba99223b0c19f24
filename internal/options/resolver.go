// Package options resolves the value domains of select-like fields. Remote
// option lists are fetched once per scope and cached process-wide.
package options

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/propsheet/internal/events"
	"github.com/alfredjeanlab/propsheet/internal/model"
)

// DefaultTimeout bounds a single option fetch.
const DefaultTimeout = 30 * time.Second

// ErrNoFetcher is returned for remote lookups on a resolver built without a
// Fetcher.
var ErrNoFetcher = errors.New("no fetcher configured")

// Fetcher performs the network GET behind a field URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.RawRow, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]model.RawRow, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]model.RawRow, error) {
	return f(ctx, url)
}

// NodeInfo locates the tree node a form was opened on.
type NodeInfo struct {
	ServerID   string `json:"server_id"`
	DatabaseID string `json:"database_id,omitempty"`
	SchemaID   string `json:"schema_id,omitempty"`
}

// ScopePath returns the cache scope of the node at the given level, e.g.
// "1/5" for database 5 on server 1.
func (n NodeInfo) ScopePath(level model.CacheLevel) string {
	parts := []string{n.ServerID}
	switch level {
	case model.CacheSchema:
		parts = append(parts, n.DatabaseID, n.SchemaID)
	case model.CacheDatabase:
		parts = append(parts, n.DatabaseID)
	}
	return strings.Join(parts, "/")
}

// Key identifies one cache entry.
type Key struct {
	NodeType string
	URL      string
	Level    model.CacheLevel
	Scope    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.NodeType, k.URL, k.Level, k.Scope)
}

// Entry is a cached, untransformed fetch result.
type Entry struct {
	Key       Key
	Rows      []model.RawRow
	FetchedAt time.Time
}

// FetchError reports a failed fetch or transform for one field.
type FetchError struct {
	Field string
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("options for %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("options for %s from %s: %v", e.Field, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures a Resolver.
type Config struct {
	Fetcher   Fetcher
	Publisher events.Publisher
	Logger    *slog.Logger
	Timeout   time.Duration
	Now       func() time.Time
}

// Resolver resolves field options and owns the option cache. It is safe for
// concurrent use.
type Resolver struct {
	fetcher Fetcher
	pub     events.Publisher
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	cache    map[Key]*Entry
	inflight map[Key]bool
	gen      uint64
	dropped  map[string]uint64 // scope prefix -> generation of its last invalidation
	fetches  atomic.Int64
}

// NewResolver creates a Resolver. Missing config values get defaults.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		fetcher:  cfg.Fetcher,
		pub:      cfg.Publisher,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		cache:    make(map[Key]*Entry),
		inflight: make(map[Key]bool),
		dropped:  make(map[string]uint64),
	}
	if r.pub == nil {
		r.pub = &events.NoopPublisher{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// KeyFor builds the cache key of a URL-backed field. The field's own
// CacheLevel and CacheNode override the node type defaults.
func KeyFor(nodeType string, f *model.Field, info NodeInfo) Key {
	level := f.CacheLevel
	if level == "" {
		level = model.CacheServer
	}
	node := f.CacheNode
	if node == "" {
		node = nodeType
	}
	return Key{NodeType: node, URL: f.URL, Level: level, Scope: info.ScopePath(level)}
}

// Remote reports whether the field's options come from a URL.
func Remote(f *model.Field) bool {
	return f.URL != ""
}

// Static returns the options of a field that has no URL: OptionsFn(state)
// when set, otherwise the (possibly re-typed) static list.
func Static(f *model.Field, state model.State) (opts []model.Option) {
	if f.OptionsFn == nil {
		return f.Variant(state).Options
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("options function panicked", "field", f.ID, "panic", r)
			opts = nil
		}
	}()
	return f.OptionsFn(state)
}

// Resolve returns the options for a field. Remote lists are served from the
// cache or fetched once per key; callers for the same key share the flight.
// The fetch is detached from ctx, so a caller giving up early still leaves a
// populated cache behind. On failure an empty list and a *FetchError are
// returned and a fetch error event is published.
func (r *Resolver) Resolve(ctx context.Context, nodeType string, f *model.Field, info NodeInfo, state model.State) ([]model.Option, error) {
	if !Remote(f) {
		return Static(f, state), nil
	}
	key := KeyFor(nodeType, f, info)
	if e := r.lookup(key); e != nil {
		return r.transformReported(ctx, nodeType, f, e.Rows, state)
	}

	ch := r.group.DoChan(key.String(), func() (any, error) {
		if e := r.lookup(key); e != nil {
			return e, nil
		}
		return r.fetch(key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			ferr := &FetchError{Field: f.ID, URL: f.URL, Err: res.Err}
			r.Report(ctx, nodeType, ferr)
			return []model.Option{}, ferr
		}
		return r.transformReported(ctx, nodeType, f, res.Val.(*Entry).Rows, state)
	}
}

// Cached returns the options for a field without fetching. The second result
// is false when the field is remote and its key is not cached. A failing
// Transform yields an empty list and a *FetchError; nothing is published, so
// callers that poll Cached decide when to Report.
func (r *Resolver) Cached(nodeType string, f *model.Field, info NodeInfo, state model.State) ([]model.Option, bool, error) {
	if !Remote(f) {
		return Static(f, state), true, nil
	}
	e := r.lookup(KeyFor(nodeType, f, info))
	if e == nil {
		return nil, false, nil
	}
	opts, err := r.transform(f, e.Rows, state)
	return opts, true, err
}

func (r *Resolver) lookup(key Key) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key]
}

// fetch performs the network call for key. A result whose scope was
// invalidated while the call was in flight is handed to the waiting callers
// but not cached.
func (r *Resolver) fetch(key Key) (*Entry, error) {
	if r.fetcher == nil {
		return nil, ErrNoFetcher
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.mu.Lock()
	gen := r.gen
	r.inflight[key] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	}()

	r.fetches.Add(1)
	start := r.now()
	rows, err := r.fetcher.Fetch(ctx, key.URL)
	if err != nil {
		r.logger.Warn("option fetch failed", "url", key.URL, "scope", key.Scope, "error", err)
		return nil, err
	}
	e := &Entry{Key: key, Rows: rows, FetchedAt: r.now()}
	r.mu.Lock()
	stale := r.invalidatedSince(key, gen)
	if !stale {
		r.cache[key] = e
	}
	r.mu.Unlock()
	if stale {
		r.logger.Debug("options dropped after invalidation", "url", key.URL, "scope", key.Scope)
		return e, nil
	}
	r.logger.Debug("options cached", "url", key.URL, "scope", key.Scope, "rows", len(rows), "took", e.FetchedAt.Sub(start))
	return e, nil
}

// Generation returns a counter that moves on every Invalidate. Pair it with
// InvalidatedSince to tell whether a scope was dropped after a point in time.
func (r *Resolver) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// InvalidatedSince reports whether the scope of key was invalidated after
// generation gen.
func (r *Resolver) InvalidatedSince(key Key, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.invalidatedSince(key, gen)
}

func (r *Resolver) invalidatedSince(key Key, gen uint64) bool {
	for prefix, g := range r.dropped {
		if g > gen && inScope(key.Scope, prefix) {
			return true
		}
	}
	return false
}

func inScope(scope, prefix string) bool {
	return scope == prefix || strings.HasPrefix(scope, prefix+"/")
}

// transform converts raw rows with the field's Transform. The result is never
// cached because it may depend on state.
func (r *Resolver) transform(f *model.Field, rows []model.RawRow, state model.State) ([]model.Option, error) {
	if f.Transform == nil {
		return DefaultTransform(rows), nil
	}
	opts, err := safeTransform(f, rows, state)
	if err != nil {
		return []model.Option{}, &FetchError{Field: f.ID, URL: f.URL, Err: err}
	}
	if opts == nil {
		opts = []model.Option{}
	}
	return opts, nil
}

func (r *Resolver) transformReported(ctx context.Context, nodeType string, f *model.Field, rows []model.RawRow, state model.State) ([]model.Option, error) {
	opts, err := r.transform(f, rows, state)
	var ferr *FetchError
	if errors.As(err, &ferr) {
		r.Report(ctx, nodeType, ferr)
	}
	return opts, err
}

func safeTransform(f *model.Field, rows []model.RawRow, state model.State) (opts []model.Option, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("transform panicked: %v", rec)
		}
	}()
	return f.Transform(rows, state)
}

// Report publishes a fetch error event for ferr. Publishing failures are
// logged and otherwise ignored.
func (r *Resolver) Report(ctx context.Context, nodeType string, ferr *FetchError) {
	ev := events.FetchFailed{NodeType: nodeType, Field: ferr.Field, URL: ferr.URL, Error: ferr.Err.Error()}
	if err := r.pub.Publish(context.WithoutCancel(ctx), events.TopicFetchError, ev); err != nil {
		r.logger.Warn("publishing fetch error", "field", ferr.Field, "err", err)
	}
}

// DefaultTransform maps rows carrying "label" and "value" keys to options.
// Rows without a value are skipped.
func DefaultTransform(rows []model.RawRow) []model.Option {
	out := make([]model.Option, 0, len(rows))
	for _, row := range rows {
		v, ok := row["value"]
		if !ok {
			continue
		}
		o := model.Option{Value: v}
		if l, ok := row["label"].(string); ok {
			o.Label = l
		} else {
			o.Label = fmt.Sprint(v)
		}
		if img, ok := row["image"].(string); ok {
			o.Image = img
		}
		out = append(out, o)
	}
	return out
}

// Invalidate drops every entry cached at or below the scope of info at the
// given level. Invalidating a server also drops its database and schema
// entries. Fetches in flight for the scope finish without caching, and later
// callers start a new flight.
func (r *Resolver) Invalidate(level model.CacheLevel, info NodeInfo) int {
	prefix := info.ScopePath(level)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.dropped[prefix] = r.gen
	for k := range r.inflight {
		if inScope(k.Scope, prefix) {
			r.group.Forget(k.String())
		}
	}
	n := 0
	for k := range r.cache {
		if inScope(k.Scope, prefix) {
			delete(r.cache, k)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("option cache invalidated", "level", level, "scope", prefix, "entries", n)
	}
	return n
}

// Entries returns a snapshot of the cached entries.
func (r *Resolver) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.cache))
	for _, e := range r.cache {
		out = append(out, *e)
	}
	return out
}

// Fetcher returns the resolver's fetcher, or nil when none is configured.
func (r *Resolver) Fetcher() Fetcher { return r.fetcher }

// Fetches returns the number of network fetches performed so far.
func (r *Resolver) Fetches() int64 {
	return r.fetches.Load()
}
