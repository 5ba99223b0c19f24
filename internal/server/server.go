// Package server serves the option catalogs the form engine fetches for its
// select fields. Catalogs are read from the PostgreSQL system catalog of the
// connected database and exposed over HTTP/JSON, with a gRPC health service
// that tracks whether that database is reachable.
package server

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/lib/pq"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

// ServiceName is the gRPC health service name reported alongside the
// server-wide "" entry.
const ServiceName = "propsheet.catalog"

// ErrUnknownCatalog is returned for a catalog kind the server does not serve.
var ErrUnknownCatalog = errors.New("unknown catalog")

// CatalogServer answers option catalog requests against one database.
type CatalogServer struct {
	db     *sql.DB
	logger *slog.Logger
	health *health.Server
}

// Open connects to the PostgreSQL database at the given URL.
func Open(databaseURL string, logger *slog.Logger) (*CatalogServer, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open database handle. The health status starts out as
// NOT_SERVING until the first RefreshHealth.
func New(db *sql.DB, logger *slog.Logger) *CatalogServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &CatalogServer{db: db, logger: logger, health: hs}
}

// Close marks the server as not serving and closes the database.
func (s *CatalogServer) Close() error {
	s.health.Shutdown()
	return s.db.Close()
}

// Kinds returns the catalog kinds the server can answer, sorted.
func Kinds() []string {
	out := make([]string, 0, len(catalogs))
	for k := range catalogs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Options returns the rows of one catalog.
func (s *CatalogServer) Options(ctx context.Context, kind string) ([]model.RawRow, error) {
	q, ok := catalogs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalog, kind)
	}
	rows, err := queryCatalog(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	return rows, nil
}

// Ping checks the database connection.
func (s *CatalogServer) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RefreshHealth pings the database and updates the gRPC health status.
func (s *CatalogServer) RefreshHealth(ctx context.Context) error {
	err := s.Ping(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("catalog database unreachable", "err", err)
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return err
}

// WatchHealth refreshes the health status every interval until ctx is done.
func (s *CatalogServer) WatchHealth(ctx context.Context, interval time.Duration) {
	_ = s.RefreshHealth(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RefreshHealth(ctx)
		}
	}
}

// IsConnectionError reports whether err means the database connection is
// gone, as opposed to a failed query on a live connection.
func IsConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 57P0x: server shutting down.
		return pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
