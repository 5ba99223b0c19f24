// Package sync backs up drafts to external destinations on a schedule.
package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/store"
)

// Destination receives a full JSONL export of the draft store.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Source is a destination that can hand back what it stored.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

var (
	_ Source = (*FileDestination)(nil)
	_ Source = (*S3Destination)(nil)
)

// Scheduler copies the draft store to its destinations every interval. A
// destination is only rewritten when the drafts changed since its last
// successful write; the export header timestamp does not count as a change.
type Scheduler struct {
	store    store.Store
	dests    []Destination
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	written map[int][sha256.Size]byte

	stop context.CancelFunc
	done chan struct{}
}

func NewScheduler(s store.Store, dests []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		dests:    dests,
		interval: interval,
		logger:   logger,
		written:  make(map[int][sha256.Size]byte),
	}
}

// draftsDigest hashes everything after the header line.
func draftsDigest(export []byte) [sha256.Size]byte {
	if i := bytes.IndexByte(export, '\n'); i >= 0 {
		export = export[i+1:]
	}
	return sha256.Sum256(export)
}

// SyncOnce exports the store and writes it to every destination that is
// behind. Failed destinations are retried on the next call.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		return fmt.Errorf("sync export: %w", err)
	}
	data := buf.Bytes()
	sum := draftsDigest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	wrote := 0
	for i, dest := range s.dests {
		if prev, ok := s.written[i]; ok && prev == sum {
			continue
		}
		if err := dest.Write(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("destination %d: %w", i, err))
			continue
		}
		s.written[i] = sum
		wrote++
	}
	if wrote > 0 || len(errs) > 0 {
		s.logger.Info("drafts synced", "written", wrote, "failed", len(errs), "bytes", len(data))
	} else {
		s.logger.Debug("drafts unchanged, sync skipped")
	}
	return errors.Join(errs...)
}

// Start syncs immediately and then on every tick until Stop is called or
// ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("draft sync failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels a started scheduler and waits for an in-flight sync.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
}
