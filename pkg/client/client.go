// Package client is an HTTP client for the migration server API.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Client talks to a migration server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	AuthToken string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		authToken: cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept-Encoding", "gzip")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gr.Close()
		reader = gr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er protocol.ErrorResponse
		if err := json.NewDecoder(reader).Decode(&er); err != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) (*protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Languages lists the language catalog.
func (c *Client) Languages(ctx context.Context) ([]protocol.Language, error) {
	var resp protocol.LanguagesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/languages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Languages, nil
}

// StartSnippet starts a snippet migration.
func (c *Client) StartSnippet(ctx context.Context, req protocol.SnippetRequest) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/snippets", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartRepo starts a repository migration.
func (c *Client) StartRepo(ctx context.Context, req protocol.RepoRequest) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/repos", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func runPath(id string, parts ...string) string {
	p := "/api/v1/runs/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// Run fetches a run snapshot.
func (c *Client) Run(ctx context.Context, id string) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodGet, runPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns snapshots of every run the server holds, oldest first.
func (c *Client) List(ctx context.Context) ([]protocol.RunResponse, error) {
	var resp []protocol.RunResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Restart resets a finished run and executes it again.
func (c *Client) Restart(ctx context.Context, id string) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodPost, runPath(id, "restart"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Confirm resumes a repository run waiting after planning.
func (c *Client) Confirm(ctx context.Context, id string) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodPost, runPath(id, "confirm"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel stops a run.
func (c *Client) Cancel(ctx context.Context, id string) (*protocol.RunResponse, error) {
	var resp protocol.RunResponse
	if err := c.do(ctx, http.MethodPost, runPath(id, "cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs fetches a run's log.
func (c *Client) Logs(ctx context.Context, id string) (*protocol.LogsResponse, error) {
	var resp protocol.LogsResponse
	if err := c.do(ctx, http.MethodGet, runPath(id, "logs"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tree fetches the source or target tree of a run.
func (c *Client) Tree(ctx context.Context, id, side string) (*protocol.TreeResponse, error) {
	var resp protocol.TreeResponse
	if err := c.do(ctx, http.MethodGet, runPath(id, "tree")+"?side="+url.QueryEscape(side), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// File fetches one node of a run's tree, with content.
func (c *Client) File(ctx context.Context, id, side, path string) (*protocol.FileResponse, error) {
	var resp protocol.FileResponse
	p := runPath(id, "files", escapePath(path)) + "?side=" + url.QueryEscape(side)
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Export writes a completed run's project to the server's export backend.
func (c *Client) Export(ctx context.Context, id string, req protocol.ExportRequest) (*protocol.ExportResponse, error) {
	var resp protocol.ExportResponse
	if err := c.do(ctx, http.MethodPost, runPath(id, "export"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogLevel returns the server's log level.
func (c *Client) LogLevel(ctx context.Context) (string, error) {
	var resp protocol.LogLevel
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/log-level", nil, &resp); err != nil {
		return "", err
	}
	return resp.Level, nil
}

// SetLogLevel changes the server's log level. It needs an admin token when
// the server checks tokens.
func (c *Client) SetLogLevel(ctx context.Context, level string) (string, error) {
	var resp protocol.LogLevel
	if err := c.do(ctx, http.MethodPut, "/api/v1/admin/log-level", protocol.LogLevel{Level: level}, &resp); err != nil {
		return "", err
	}
	return resp.Level, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
