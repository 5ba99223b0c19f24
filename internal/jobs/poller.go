// Package jobs follows background processes on the backend (backups,
// maintenance, imports) until they exit.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/client"
	"github.com/alfredjeanlab/propsheet/internal/events"
)

// ErrAlreadyWatching is returned when a job is already being watched.
var ErrAlreadyWatching = errors.New("jobs: already watching")

// Default poll timings.
const (
	DefaultInterval    = time.Second
	DefaultMaxInterval = 10 * time.Second
	DefaultRetryDelay  = 5 * time.Second
	DefaultTimeout     = 30 * time.Second

	backoffFactor = 1.5
)

// StatusSource reports incremental process status.
type StatusSource interface {
	ProcessStatus(ctx context.Context, id string, outPos, errPos int) (*client.ProcessStatus, error)
}

// Update is the new output of one poll.
type Update struct {
	JobID    string
	Stdout   []string
	Stderr   []string
	ExitCode *int
}

// Config configures a Poller. Zero durations take the defaults.
type Config struct {
	Source    StatusSource
	Publisher events.Publisher
	Logger    *slog.Logger

	Interval    time.Duration
	MaxInterval time.Duration
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// Poller watches background processes, at most one watch per job id.
type Poller struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	watching map[string]bool

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller.
func NewPoller(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = max(DefaultMaxInterval, cfg.Interval)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		logger:   logger,
		watching: make(map[string]bool),
		wait:     sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Watching returns the ids of the jobs being watched, sorted.
func (p *Poller) Watching() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.watching))
	for id := range p.watching {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Watch polls job id until it reports an exit code or ctx is done, calling
// onUpdate (which may be nil) for every poll that brought new output. It
// returns the exit code.
//
// Polls without output lengthen the wait by half up to MaxInterval; new
// output resets it to Interval. A failed poll is retried after RetryDelay.
func (p *Poller) Watch(ctx context.Context, id string, onUpdate func(Update)) (int, error) {
	p.mu.Lock()
	if p.watching[id] {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAlreadyWatching, id)
	}
	p.watching[id] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.watching, id)
		p.mu.Unlock()
	}()

	logger := p.logger.With("job", id)
	var outPos, errPos int
	delay := p.cfg.Interval
	for {
		st, err := p.poll(ctx, id, outPos, errPos)
		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case err != nil:
			logger.Warn("job status poll failed", "err", err, "retry_in", p.cfg.RetryDelay)
			if err := p.wait(ctx, p.cfg.RetryDelay); err != nil {
				return 0, err
			}
			continue
		}

		outPos, errPos = st.Out.Pos, st.Err.Pos
		if !st.Empty() {
			u := Update{JobID: id, Stdout: st.Out.Lines, Stderr: st.Err.Lines, ExitCode: st.ExitCode}
			p.publish(ctx, u)
			if onUpdate != nil {
				onUpdate(u)
			}
		}
		if st.ExitCode != nil {
			logger.Info("job finished", "exit_code", *st.ExitCode)
			return *st.ExitCode, nil
		}

		if !st.Empty() {
			delay = p.cfg.Interval
		}
		if err := p.wait(ctx, delay); err != nil {
			return 0, err
		}
		delay = p.grow(delay)
	}
}

func (p *Poller) poll(ctx context.Context, id string, outPos, errPos int) (*client.ProcessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return p.cfg.Source.ProcessStatus(ctx, id, outPos, errPos)
}

// grow lengthens the delay by half, up to MaxInterval.
func (p *Poller) grow(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	return min(next, p.cfg.MaxInterval)
}

func (p *Poller) publish(ctx context.Context, u Update) {
	ev := events.JobUpdated{JobID: u.JobID, Stdout: u.Stdout, Stderr: u.Stderr, ExitCode: u.ExitCode}
	if err := p.cfg.Publisher.Publish(context.WithoutCancel(ctx), events.TopicJobUpdated, ev); err != nil {
		p.logger.Warn("publish job update failed", "job", u.JobID, "err", err)
	}
}
