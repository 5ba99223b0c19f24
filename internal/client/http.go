package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

// DefaultTimeout bounds every request made by an HTTPClient.
const DefaultTimeout = 30 * time.Second

// HTTPClient implements Backend using the admin backend's HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:5050"). When token is non-empty, an Authorization
// header is set on every request. A zero timeout means DefaultTimeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// envelope is the backend's response wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
}

// --- Options ---

// Fetch loads the rows behind an option URL.
func (c *HTTPClient) Fetch(ctx context.Context, path string) ([]model.RawRow, error) {
	var resp envelope[[]model.RawRow]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []model.RawRow{}, nil
	}
	return resp.Data, nil
}

// --- Objects ---

func (c *HTTPClient) GetObject(ctx context.Context, path string) (model.State, error) {
	var resp envelope[model.State]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *HTTPClient) CreateObject(ctx context.Context, path string, data model.State) (model.State, error) {
	var resp envelope[model.State]
	if err := c.doJSON(ctx, http.MethodPost, path, data, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *HTTPClient) UpdateObject(ctx context.Context, path string, data model.State) (model.State, error) {
	var resp envelope[model.State]
	if err := c.doJSON(ctx, http.MethodPut, path, data, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// --- Background processes ---

func (c *HTTPClient) ProcessStatus(ctx context.Context, id string, outPos, errPos int) (*ProcessStatus, error) {
	q := url.Values{}
	q.Set("out", strconv.Itoa(outPos))
	q.Set("err", strconv.Itoa(errPos))
	path := "/v1/processes/" + url.PathEscape(id) + "?" + q.Encode()

	var status ProcessStatus
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the backend. Info carries the
// backend's machine-readable marker, such as InfoConnectionLost.
type APIError struct {
	StatusCode int
	Message    string
	Info       string
}

func (e *APIError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Info)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Info  string `json:"info"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Info != "") {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Info: errResp.Info}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
