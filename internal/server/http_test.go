package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/propsheet/internal/client"
)

// newTestServer returns a CatalogServer over sqlmock with ping monitoring on.
func newTestServer(t *testing.T) (*CatalogServer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return New(db, nil), mock
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetOptionsRoles(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("FROM pg_catalog.pg_roles").
		WillReturnRows(sqlmock.NewRows([]string{"rolname"}).AddRow("app").AddRow("postgres"))

	rec := get(s.NewHTTPHandler(""), "/v1/options/roles")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(resp.Data))
	}
	if resp.Data[0]["label"] != "app" || resp.Data[0]["value"] != "app" {
		t.Fatalf("unexpected row %v", resp.Data[0])
	}
}

func TestOptionsGroupedCatalogs(t *testing.T) {
	for _, tc := range []struct {
		kind  string
		match string
		group string
	}{
		{kind: "columns", match: "FROM pg_catalog.pg_attribute", group: "table"},
		{kind: "opclasses", match: "FROM pg_catalog.pg_opclass", group: "amname"},
	} {
		t.Run(tc.kind, func(t *testing.T) {
			s, mock := newTestServer(t)
			mock.ExpectQuery(tc.match).
				WillReturnRows(sqlmock.NewRows([]string{"g", "name"}).AddRow("g1", "a").AddRow("g2", "b"))

			rows, err := s.Options(context.Background(), tc.kind)
			if err != nil {
				t.Fatalf("Options: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("expected 2 rows, got %d", len(rows))
			}
			if rows[1]["value"] != "b" || rows[1][tc.group] != "g2" {
				t.Fatalf("unexpected row %v", rows[1])
			}
		})
	}
}

func TestOptionsEmptyCatalog(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("FROM pg_catalog.pg_am").WillReturnRows(sqlmock.NewRows([]string{"amname"}))

	rec := get(s.NewHTTPHandler(""), "/v1/options/access_methods")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"data\":[]}\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestRowCatalogUsesColumnNames(t *testing.T) {
	s, mock := newTestServer(t)
	mock.ExpectQuery("FROM pg_catalog.pg_seclabels").
		WillReturnRows(sqlmock.NewRows([]string{"provider"}).AddRow("selinux"))

	rec := get(s.NewHTTPHandler(""), "/v1/options/seclabel_providers")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "{\"data\":[{\"provider\":\"selinux\"}]}\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestGetOptionsErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		path     string
		queryErr error
		want     int
		info     string
	}{
		{name: "unknown kind", path: "/v1/options/nope", want: http.StatusNotFound},
		{name: "connection lost", path: "/v1/options/roles", queryErr: &pq.Error{Code: "08006"}, want: http.StatusServiceUnavailable, info: client.InfoConnectionLost},
		{name: "admin shutdown", path: "/v1/options/roles", queryErr: &pq.Error{Code: "57P01"}, want: http.StatusServiceUnavailable, info: client.InfoConnectionLost},
		{name: "query error", path: "/v1/options/roles", queryErr: &pq.Error{Code: "42P01"}, want: http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newTestServer(t)
			if tc.queryErr != nil {
				mock.ExpectQuery("pg_roles").WillReturnError(tc.queryErr)
			}
			rec := get(s.NewHTTPHandler(""), tc.path)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d; body: %s", tc.want, rec.Code, rec.Body.String())
			}
			var resp map[string]string
			decodeJSON(t, rec, &resp)
			if resp["error"] == "" {
				t.Fatal("expected error message")
			}
			if resp["info"] != tc.info {
				t.Fatalf("info = %q, want %q", resp["info"], tc.info)
			}
		})
	}
}

func TestListCatalogs(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(s.NewHTTPHandler(""), "/v1/options")
	var resp struct {
		Data []string `json:"data"`
	}
	decodeJSON(t, rec, &resp)
	want := []string{"access_methods", "columns", "databases", "opclasses", "roles", "schemas", "seclabel_providers", "tables"}
	if len(resp.Data) != len(want) {
		t.Fatalf("got %v", resp.Data)
	}
	for i := range want {
		if resp.Data[i] != want[i] {
			t.Fatalf("got %v, want %v", resp.Data, want)
		}
	}
}

func TestHealth(t *testing.T) {
	s, mock := newTestServer(t)
	h := s.NewHTTPHandler("secret")

	mock.ExpectPing()
	if rec := get(h, "/v1/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	mock.ExpectPing().WillReturnError(errors.New("dial tcp: connection refused"))
	rec := get(h, "/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	if resp["info"] != client.InfoConnectionLost {
		t.Fatalf("info = %q", resp["info"])
	}
}

func TestRefreshHealthTracksDatabase(t *testing.T) {
	s, mock := newTestServer(t)
	ctx := context.Background()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v", got)
	}

	mock.ExpectPing()
	if err := s.RefreshHealth(ctx); err != nil {
		t.Fatalf("RefreshHealth: %v", err)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", got)
	}

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	if err := s.RefreshHealth(ctx); err == nil {
		t.Fatal("expected error")
	}
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", got)
	}
}

func TestIsConnectionError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{sql.ErrConnDone, true},
		{&pq.Error{Code: "08003"}, true},
		{&pq.Error{Code: "23505"}, false},
		{errors.New("boom"), false},
	} {
		if got := IsConnectionError(tc.err); got != tc.want {
			t.Errorf("IsConnectionError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
