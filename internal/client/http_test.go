package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/options"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, "", 0)
	return c, srv
}

// --- Fetch ---

func TestHTTPClient_Fetch(t *testing.T) {
	h := &testHandler{
		responseBody: `{"data": [
			{"label": "postgres", "value": "postgres"},
			{"label": "app", "value": "app", "image": "icon-role"}
		]}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	rows, err := c.Fetch(context.Background(), "/v1/options/roles")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if h.method != http.MethodGet {
		t.Errorf("method = %q, want GET", h.method)
	}
	if h.path != "/v1/options/roles" {
		t.Errorf("path = %q, want /v1/options/roles", h.path)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[1]["image"] != "icon-role" {
		t.Errorf("rows[1].image = %v, want icon-role", rows[1]["image"])
	}
}

func TestHTTPClient_Fetch_NullData(t *testing.T) {
	h := &testHandler{responseBody: `{"data": null}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	rows, err := c.Fetch(context.Background(), "/v1/options/schemas")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want empty non-nil slice", rows)
	}
}

func TestHTTPClient_Fetch_RelativePath(t *testing.T) {
	h := &testHandler{responseBody: `{"data": []}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.Fetch(context.Background(), "v1/options/tables"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if h.path != "/v1/options/tables" {
		t.Errorf("path = %q, want /v1/options/tables", h.path)
	}
}

func TestHTTPClient_ImplementsFetcher(t *testing.T) {
	var _ options.Fetcher = (*HTTPClient)(nil)
}

// --- Objects ---

func TestHTTPClient_GetObject(t *testing.T) {
	h := &testHandler{
		responseBody: `{"data": {"oid": 2200, "name": "public", "namespaceowner": "postgres"}}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	obj, err := c.GetObject(context.Background(), "/v1/objects/schema/1/16384/2200")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if h.path != "/v1/objects/schema/1/16384/2200" {
		t.Errorf("path = %q", h.path)
	}
	if obj.String("name") != "public" {
		t.Errorf("name = %q, want public", obj.String("name"))
	}
	if obj["oid"] != float64(2200) {
		t.Errorf("oid = %#v, want 2200", obj["oid"])
	}
}

func TestHTTPClient_CreateObject(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusOK,
		responseBody: `{"data": {"oid": 16500, "name": "pub1"}}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	obj, err := c.CreateObject(context.Background(), "/v1/objects/publication/1/16384", map[string]any{
		"name":      "pub1",
		"all_table": true,
	})
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	if h.method != http.MethodPost {
		t.Errorf("method = %q, want POST", h.method)
	}
	if h.contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", h.contentType)
	}
	if !strings.Contains(h.body, `"all_table":true`) {
		t.Errorf("body = %s, want all_table", h.body)
	}
	if obj["oid"] != float64(16500) {
		t.Errorf("oid = %#v, want 16500", obj["oid"])
	}
}

func TestHTTPClient_UpdateObject(t *testing.T) {
	h := &testHandler{responseBody: `{"data": {"oid": 16500}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.UpdateObject(context.Background(), "/v1/objects/publication/1/16384/16500", map[string]any{
		"oid":       16500,
		"pubschema": nil,
	})
	if err != nil {
		t.Fatalf("UpdateObject() error = %v", err)
	}
	if h.method != http.MethodPut {
		t.Errorf("method = %q, want PUT", h.method)
	}
	if !strings.Contains(h.body, `"pubschema":null`) {
		t.Errorf("body = %s, want removed key sent as null", h.body)
	}
}

// --- Background processes ---

func TestHTTPClient_ProcessStatus(t *testing.T) {
	h := &testHandler{
		responseBody: `{
			"out": {"pos": 12, "lines": ["starting", "done"]},
			"err": {"pos": 0, "lines": []},
			"exit_code": 0,
			"start_time": "2026-01-15T10:00:00Z",
			"execution_time": 1.5
		}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	st, err := c.ProcessStatus(context.Background(), "job/1", 3, 4)
	if err != nil {
		t.Fatalf("ProcessStatus() error = %v", err)
	}
	if h.rawPath != "/v1/processes/job%2F1" {
		t.Errorf("rawPath = %q, want escaped id", h.rawPath)
	}
	if h.query != "err=4&out=3" {
		t.Errorf("query = %q, want err=4&out=3", h.query)
	}
	if st.Out.Pos != 12 || len(st.Out.Lines) != 2 {
		t.Errorf("out = %+v", st.Out)
	}
	if st.ExitCode == nil || *st.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", st.ExitCode)
	}
	if st.Empty() {
		t.Error("Empty() = true, want false")
	}
}

func TestProcessStatus_Empty(t *testing.T) {
	st := &ProcessStatus{}
	if !st.Empty() {
		t.Error("zero status should be empty")
	}
	code := 1
	st.ExitCode = &code
	if st.Empty() {
		t.Error("status with exit code should not be empty")
	}
}

// --- Health ---

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{
		responseBody: `{"status": "ok"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	if h.method != http.MethodGet {
		t.Errorf("method = %q, want GET", h.method)
	}
	if h.path != "/v1/health" {
		t.Errorf("path = %q, want /v1/health", h.path)
	}

	if status != "ok" {
		t.Errorf("status = %q, want 'ok'", status)
	}
}

// --- Auth ---

func TestHTTPClient_BearerToken(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "s3cret", 0)
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want 'Bearer s3cret'", h.auth)
	}

	c = NewHTTPClient(srv.URL, "", 0)
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "" {
		t.Errorf("Authorization = %q, want none", h.auth)
	}
}

// --- Error handling ---

func TestHTTPClient_Error_JSONBody(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusBadRequest,
		responseBody: `{"error": "publication \"pub1\" already exists"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.CreateObject(context.Background(), "/v1/objects/publication/1/16384", map[string]any{"name": "pub1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message != `publication "pub1" already exists` {
		t.Errorf("message = %q", apiErr.Message)
	}
	if IsConnectionLost(err) {
		t.Error("IsConnectionLost() = true for a 400")
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error\n"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	_, err := c.GetObject(context.Background(), "/v1/objects/schema/1/16384/2200")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Message != "internal server error" {
		t.Errorf("message = %q, want 'internal server error'", apiErr.Message)
	}
}

func TestHTTPClient_Error_EmptyJSONError(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusUnprocessableEntity,
		responseBody: `{"error": ""}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetObject(context.Background(), "/v1/objects/schema/1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Message != `{"error": ""}` {
		t.Errorf("message = %q, want raw body", apiErr.Message)
	}
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"503 lost", &APIError{StatusCode: 503, Info: InfoConnectionLost}, true},
		{"wrapped", errorsJoin(&APIError{StatusCode: 503, Info: InfoConnectionLost}), true},
		{"503 other", &APIError{StatusCode: 503, Info: "MAINTENANCE"}, false},
		{"500 lost", &APIError{StatusCode: 500, Info: InfoConnectionLost}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionLost(tt.err); got != tt.want {
				t.Errorf("IsConnectionLost(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func errorsJoin(err error) error {
	return errors.Join(errors.New("saving"), err)
}

func TestHTTPClient_ConnectionLostResponse(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusServiceUnavailable,
		responseBody: `{"error": "server closed the connection unexpectedly", "info": "CONNECTION_LOST"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.Fetch(context.Background(), "/v1/options/roles")
	if !IsConnectionLost(err) {
		t.Fatalf("IsConnectionLost(%v) = false, want true", err)
	}
}

func TestHTTPClient_Error_FormatString(t *testing.T) {
	tests := []struct {
		err  *APIError
		want string
	}{
		{&APIError{StatusCode: 403, Message: "forbidden"}, "HTTP 403: forbidden"},
		{&APIError{StatusCode: 503, Message: "gone", Info: InfoConnectionLost}, "HTTP 503: gone (CONNECTION_LOST)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{
		responseBody: `{"status": "ok"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	start := time.Now()
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, want it bounded by the client timeout", elapsed)
	}
}

func TestHTTPClient_204NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)
	obj, err := c.UpdateObject(context.Background(), "/v1/objects/schema/1/16384/2200", map[string]any{"oid": 2200})
	if err != nil {
		t.Fatalf("UpdateObject() with 204 error = %v", err)
	}
	if obj != nil {
		t.Errorf("obj = %v, want nil", obj)
	}
}

// --- Construction ---

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient("http://localhost:5050/", "", 0)
	if c.baseURL != "http://localhost:5050" {
		t.Errorf("baseURL = %q, want 'http://localhost:5050'", c.baseURL)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestHTTPClient_ImplementsBackend(t *testing.T) {
	var _ Backend = (*HTTPClient)(nil)
}

func TestHTTPClient_ConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 0)

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := c.Fetch(context.Background(), "/v1/options/roles")
			errs <- err
		}()
	}

	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Fetch() error = %v", err)
		}
	}
	if got := calls.Load(); got != 10 {
		t.Errorf("calls = %d, want 10", got)
	}
}
