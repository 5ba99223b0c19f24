package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope is one event as delivered by a Local bus.
type Envelope struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler receives envelopes from a Local bus.
type Handler func(Envelope)

// ErrClosed is returned when publishing to a closed Local bus.
var ErrClosed = errors.New("events: bus closed")

// Local is an in-process event bus. Handlers run synchronously on the
// publishing goroutine in registration order; channel subscribers get a
// buffered copy and drop messages when full. Topic patterns use NATS syntax:
// "*" matches one token and a trailing ">" matches the rest.
type Local struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*localSub
	closed bool
}

type localSub struct {
	pattern string
	handler Handler
	ch      chan []byte
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[int]*localSub)}
}

// Handle registers h for topics matching pattern and returns a function that
// removes it.
func (l *Local) Handle(pattern string, h Handler) func() {
	return l.add(&localSub{pattern: pattern, handler: h})
}

// Subscribe implements Subscriber. The channel carries raw payloads.
func (l *Local) Subscribe(topic string) (<-chan []byte, func(), error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, nil, ErrClosed
	}
	ch := make(chan []byte, 64)
	cancel := l.add(&localSub{pattern: topic, ch: ch})
	return ch, cancel, nil
}

func (l *Local) add(s *localSub) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = s
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if _, ok := l.subs[id]; ok {
				delete(l.subs, id)
				if s.ch != nil {
					close(s.ch)
				}
			}
			l.mu.Unlock()
		})
	}
}

// Publish JSON-encodes event and delivers it to every matching subscriber.
func (l *Local) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	env := Envelope{ID: uuid.NewString(), Topic: topic, At: time.Now().UTC(), Data: data}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var handlers []Handler
	for _, id := range ids {
		s := l.subs[id]
		if !MatchTopic(s.pattern, topic) {
			continue
		}
		if s.handler != nil {
			handlers = append(handlers, s.handler)
			continue
		}
		select {
		case s.ch <- data:
		default:
		}
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

// Close closes every subscriber channel. Later publishes fail with ErrClosed.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for id, s := range l.subs {
		if s.ch != nil {
			close(s.ch)
		}
		delete(l.subs, id)
	}
	return nil
}

// MatchTopic reports whether topic matches a NATS-style subject pattern.
func MatchTopic(pattern, topic string) bool {
	pt := strings.Split(pattern, ".")
	tt := strings.Split(topic, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(tt)
		}
		if i >= len(tt) {
			return false
		}
		if p != "*" && p != tt[i] {
			return false
		}
	}
	return len(pt) == len(tt)
}

// Multi fans a publish out to several publishers. Every publisher is tried
// and the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
