// Package client provides the interface the form engine uses to reach the
// admin backend and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/options"
)

// InfoConnectionLost is the info marker the backend sets when the database
// connection behind a request has gone away.
const InfoConnectionLost = "CONNECTION_LOST"

// Backend is the interface dialogs, the job poller and the CLI use to talk to
// the admin backend. It is implemented by HTTPClient.
type Backend interface {
	options.Fetcher

	// Objects
	GetObject(ctx context.Context, path string) (model.State, error)
	CreateObject(ctx context.Context, path string, data model.State) (model.State, error)
	UpdateObject(ctx context.Context, path string, data model.State) (model.State, error)

	// Background processes
	ProcessStatus(ctx context.Context, id string, outPos, errPos int) (*ProcessStatus, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ProcessOutput is one stream of a background process starting at Pos.
type ProcessOutput struct {
	Pos   int      `json:"pos"`
	Lines []string `json:"lines"`
}

// ProcessStatus is the incremental status of a background process.
type ProcessStatus struct {
	Out           ProcessOutput `json:"out"`
	Err           ProcessOutput `json:"err"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	StartTime     string        `json:"start_time,omitempty"`
	ExecutionTime float64       `json:"execution_time,omitempty"`
}

// Empty reports whether the status carries no new output and no exit code.
func (s *ProcessStatus) Empty() bool {
	return len(s.Out.Lines) == 0 && len(s.Err.Lines) == 0 && s.ExitCode == nil
}

// IsConnectionLost reports whether err is the backend telling us its
// database connection was dropped.
func IsConnectionLost(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusServiceUnavailable && apiErr.Info == InfoConnectionLost
}
