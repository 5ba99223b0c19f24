package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer bounds how far a slow consumer may lag before payloads
// are dropped. The NATS callback never blocks.
const subscriptionBuffer = 64

func connect(url, name string, base []nats.Option, extra []nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{nats.Name(name)}, base...)
	nc, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher JSON-encodes events onto NATS subjects named by topic.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "propsheet-publisher", nil, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber feeds option caches from scope events published by other
// processes. It reconnects forever; a subscription survives reconnects.
type NATSSubscriber struct {
	conn *nats.Conn
}

func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "propsheet-subscriber",
		[]nats.Option{nats.MaxReconnects(-1), nats.ReconnectWait(time.Second)}, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Connected reports whether the underlying connection is currently up.
func (s *NATSSubscriber) Connected() bool { return s.conn.IsConnected() }

type natsSubscription struct {
	mu   sync.Mutex
	ch   chan []byte
	done bool
	sub  *nats.Subscription
}

func (ns *natsSubscription) deliver(msg *nats.Msg) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.done {
		return
	}
	select {
	case ns.ch <- msg.Data:
	default:
	}
}

func (ns *natsSubscription) cancel() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.done {
		return
	}
	ns.done = true
	if ns.sub != nil {
		_ = ns.sub.Unsubscribe()
	}
	close(ns.ch)
}

// Subscribe accepts NATS wildcards such as TopicScopeAll. The subscription is
// flushed to the server before returning so that events published right after
// on another connection are not missed.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	ns := &natsSubscription{ch: make(chan []byte, subscriptionBuffer)}
	sub, err := s.conn.Subscribe(topic, ns.deliver)
	if err != nil {
		ns.cancel()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	ns.mu.Lock()
	ns.sub = sub
	ns.mu.Unlock()
	if err := s.conn.Flush(); err != nil {
		ns.cancel()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return ns.ch, ns.cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
