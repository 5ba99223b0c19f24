package events

import (
	"context"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

// Event topic constants
const (
	TopicFetchError = "propsheet.fetch.error"

	// Dialog lifecycle events (emitted by host dialogs).
	TopicDialogSaved  = "propsheet.dialog.saved"
	TopicDialogClosed = "propsheet.dialog.closed"

	// Background process events.
	TopicJobUpdated = "propsheet.job.updated"

	// Connection scope events; option caches listen to these.
	TopicScopeDisconnected = "propsheet.scope.disconnected"
	TopicScopeReconnected  = "propsheet.scope.reconnected"

	// TopicScopeAll matches every scope event.
	TopicScopeAll = "propsheet.scope.>"
)

// Event types

// FetchFailed reports an option fetch or transform failure. Hosts show it as
// a dismissible, non-blocking alert.
type FetchFailed struct {
	NodeType string `json:"node_type"`
	Field    string `json:"field"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error"`
}

type DialogSaved struct {
	NodeType string      `json:"node_type"`
	Mode     model.Mode  `json:"mode"`
	ObjectID any         `json:"object_id,omitempty"`
	Data     model.State `json:"data,omitempty"`
}

type DialogClosed struct {
	NodeType string     `json:"node_type"`
	Mode     model.Mode `json:"mode"`
	Button   string     `json:"button"`
}

type JobUpdated struct {
	JobID    string   `json:"job_id"`
	Stdout   []string `json:"stdout,omitempty"`
	Stderr   []string `json:"stderr,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
}

// ScopeChanged announces a server or database connection change. Level is
// the cache level of the scope and the ids locate it in the object tree.
type ScopeChanged struct {
	Level      model.CacheLevel `json:"level"`
	ServerID   string           `json:"server_id"`
	DatabaseID string           `json:"database_id,omitempty"`
	SchemaID   string           `json:"schema_id,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber delivers raw payloads published on a topic pattern. The cancel
// func unsubscribes and closes the channel; calling it twice is safe.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher drops every event. Used when PROPSHEET_NATS_URL is unset.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (*NoopPublisher) Close() error                               { return nil }
