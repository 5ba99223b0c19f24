package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/events"
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/nodes"
	"github.com/alfredjeanlab/propsheet/internal/options"
	"github.com/alfredjeanlab/propsheet/internal/registry"
	"github.com/alfredjeanlab/propsheet/internal/store"
	"github.com/alfredjeanlab/propsheet/internal/store/postgres"
	"github.com/alfredjeanlab/propsheet/internal/store/sqlite"
)

// session bundles the engine pieces one command runs against.
type session struct {
	reg       *registry.Registry
	resolver  *options.Resolver
	publisher events.Publisher
	stop      func()
}

// openSession builds the node registry, an option resolver over the backend
// and the event publisher. With NATS configured, scope events from other
// processes invalidate the option cache while the session is open.
func openSession(ctx context.Context) (*session, error) {
	reg, err := nodes.NewRegistry()
	if err != nil {
		return nil, err
	}

	pub, err := newPublisher()
	if err != nil {
		return nil, err
	}
	s := &session{reg: reg, publisher: pub, stop: func() {}}
	var sub *events.NATSSubscriber
	if cfg.NATSURL != "" {
		if sub, err = events.NewNATSSubscriber(cfg.NATSURL); err != nil {
			pub.Close()
			return nil, err
		}
	}

	s.resolver = options.NewResolver(options.Config{
		Fetcher:   getBackend(),
		Publisher: s.publisher,
		Logger:    logger,
		Timeout:   cfg.FetchTimeout,
	})

	if sub != nil {
		wctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := options.WatchScopes(wctx, sub, s.resolver); err != nil {
				logger.Warn("scope watcher stopped", "err", err)
			}
		}()
		s.stop = func() {
			cancel()
			<-done
			sub.Close()
		}
	}
	return s, nil
}

// newPublisher connects to NATS when configured. Without it events stay
// in-process and are dropped.
func newPublisher() (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return &events.NoopPublisher{}, nil
	}
	return events.NewNATSPublisher(cfg.NATSURL)
}

func (s *session) Close() {
	s.stop()
	if err := s.publisher.Close(); err != nil {
		logger.Warn("closing publisher", "err", err)
	}
}

// schemaFor builds a node's schema for the global server version and node.
func (s *session) schemaFor(nodeType string, mode model.Mode) (*model.Schema, error) {
	return s.reg.Schema(nodeType, registry.FieldOptions{
		ServerVersion: serverVersion,
		NodeInfo:      nodeInfo,
		Mode:          mode,
	})
}

func parseMode(s string) (model.Mode, error) {
	m := model.Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("invalid mode %q (must be create, edit or properties)", s)
	}
	return m, nil
}

// readState reads a JSON object from path, "-" meaning stdin, and checks it
// against the schema.
func readState(path string, schema *model.Schema) (model.State, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return model.DecodeState(json.RawMessage(data), schema)
}

// parseSets turns key=value flags into a state. Values are decoded as JSON
// when they parse, otherwise kept as strings.
func parseSets(sets []string) (model.State, error) {
	st := model.State{}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			st[k] = decoded
		} else {
			st[k] = v
		}
	}
	return st, nil
}

// openDrafts opens the draft store named by PROPSHEET_DRAFT_DSN.
func openDrafts() (store.Store, error) {
	if cfg.DraftsInPostgres() {
		return postgres.New(cfg.DraftDSN)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DraftDSN), 0o700); err != nil {
		return nil, err
	}
	return sqlite.New(cfg.DraftDSN)
}
