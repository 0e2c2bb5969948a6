// Package localsync is the client half of the tracker: a local mirror of
// each collection for zero-latency reads and writes, an outbox that carries
// local mutations to the server, and the reload-time merge and orphan
// detection that reconcile the two.
package localsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trackboard/trackboard/internal/store"
)

// HealthReport mirrors the server's /admin/health payload.
type HealthReport struct {
	ContentDir  string                 `json:"contentDir"`
	Backend     string                 `json:"backend,omitempty"`
	Collections []store.CollectionMeta `json:"collections"`
}

// RemoteClient is the server surface the syncer needs. The HTTP
// implementation lives below; tests substitute their own.
type RemoteClient interface {
	GetCollection(ctx context.Context, collection string) ([]store.Item, error)
	CreateItem(ctx context.Context, collection string, fields map[string]any) (store.Item, error)
	UpdateItem(ctx context.Context, collection, id string, patch map[string]any) (store.Item, error)
	DeleteItem(ctx context.Context, collection, id string) error
	Health(ctx context.Context) (HealthReport, error)
}

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == store.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPClient talks to the tracker's collections API.
type HTTPClient struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, sessionID string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		sessionID:  strings.TrimSpace(sessionID),
		httpClient: httpClient,
	}
}

func (c *HTTPClient) GetCollection(ctx context.Context, collection string) ([]store.Item, error) {
	var out []store.Item
	err := c.doJSON(ctx, http.MethodGet, "/collections/"+url.PathEscape(collection), nil, &out)
	return out, err
}

func (c *HTTPClient) CreateItem(ctx context.Context, collection string, fields map[string]any) (store.Item, error) {
	var out store.Item
	err := c.doJSON(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection), fields, &out)
	return out, err
}

func (c *HTTPClient) UpdateItem(ctx context.Context, collection, id string, patch map[string]any) (store.Item, error) {
	var out store.Item
	path := "/collections/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	err := c.doJSON(ctx, http.MethodPut, path, patch, &out)
	return out, err
}

func (c *HTTPClient) DeleteItem(ctx context.Context, collection, id string) error {
	path := "/collections/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (HealthReport, error) {
	var out HealthReport
	err := c.doJSON(ctx, http.MethodGet, "/admin/health", nil, &out)
	return out, err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "trackboard_session", Value: c.sessionID})
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			httpErr.Code = envelope.Error.Code
			httpErr.Message = envelope.Error.Message
		}
		return httpErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
