package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// natsPair connects a publisher and a subscriber to a fresh embedded server.
func natsPair(t *testing.T) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

// drainClosed reads until ch is closed or the deadline passes.
func drainClosed(t *testing.T, ch <-chan []byte) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestNATSScopeEventRoundTrip(t *testing.T) {
	pub, sub := natsPair(t)
	ch, cancel, err := sub.Subscribe(TopicScopeAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	want := ScopeChanged{Level: model.CacheDatabase, ServerID: "1", DatabaseID: "16384"}
	if err := pub.Publish(context.Background(), TopicScopeReconnected, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = pub.Flush()

	select {
	case raw := <-ch:
		var got ScopeChanged
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scope event")
	}
}

func TestNATSWildcardFiltersTopics(t *testing.T) {
	pub, sub := natsPair(t)
	ch, cancel, err := sub.Subscribe(TopicScopeAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	_ = pub.Publish(ctx, TopicDialogSaved, DialogSaved{NodeType: "role"})
	_ = pub.Publish(ctx, TopicScopeDisconnected, ScopeChanged{ServerID: "1"})
	_ = pub.Publish(ctx, TopicJobUpdated, JobUpdated{JobID: "j"})
	_ = pub.Publish(ctx, TopicScopeReconnected, ScopeChanged{ServerID: "2"})
	_ = pub.Flush()

	var ids []string
	for len(ids) < 2 {
		select {
		case raw := <-ch:
			var ev ScopeChanged
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("decode: %v", err)
			}
			ids = append(ids, ev.ServerID)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", ids)
		}
	}
	if ids[0] != "1" || ids[1] != "2" {
		t.Errorf("server ids = %v", ids)
	}
	select {
	case raw := <-ch:
		t.Errorf("unexpected extra payload %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSCancel(t *testing.T) {
	t.Run("closes channel", func(t *testing.T) {
		_, sub := natsPair(t)
		ch, cancel, err := sub.Subscribe(TopicScopeAll)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		cancel()
		cancel()
		drainClosed(t, ch)
	})

	t.Run("racing publishes", func(t *testing.T) {
		pub, sub := natsPair(t)
		ch, cancel, err := sub.Subscribe(TopicScopeAll)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 200 {
				_ = pub.Publish(context.Background(), TopicScopeDisconnected, ScopeChanged{ServerID: "1"})
			}
			_ = pub.Flush()
		}()
		cancel()
		<-done
		drainClosed(t, ch)
	})
}

func TestNATSPublishCanceledContext(t *testing.T) {
	pub, _ := natsPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicDialogClosed, DialogClosed{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestNATSSubscriberConnected(t *testing.T) {
	_, sub := natsPair(t)
	if !sub.Connected() {
		t.Fatal("subscriber not connected")
	}
	var _ Subscriber = sub
	var _ Publisher = (*NoopPublisher)(nil)
}
