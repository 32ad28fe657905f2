// Package github fetches repository listings and file contents through the
// GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lassestilvang/code-migration-autopilot/internal/logging"
	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
	"github.com/lassestilvang/code-migration-autopilot/pkg/tree"
)

// DefaultBranch is assumed when the repository details cannot be fetched.
const DefaultBranch = "main"

// RateLimitError carries the reset time reported by the API.
type RateLimitError struct {
	Status int
	Reset  time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("github: %s (status %d)", source.ErrRateLimited, e.Status)
	}
	return fmt.Sprintf("github: %s (status %d, resets %s)", source.ErrRateLimited, e.Status, e.Reset.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return source.ErrRateLimited }

// Config holds client configuration.
type Config struct {
	BaseURL   string // https://api.github.com or a GitHub Enterprise API root
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// Client is a minimal GitHub REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	token      string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "code-migration-autopilot"
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
		token:     cfg.Token,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// getJSON performs a GET against the API and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		e := &RateLimitError{Status: resp.StatusCode}
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			e.Reset = time.Unix(reset, 0)
		}
		return e
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("github: %w", source.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func repoPath(repo source.Repo) string {
	return "/repos/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name)
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, repo source.Repo) (string, error) {
	var details struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.getJSON(ctx, repoPath(repo), &details); err != nil {
		return "", err
	}
	if details.DefaultBranch == "" {
		return DefaultBranch, nil
	}
	return details.DefaultBranch, nil
}

type treeResponse struct {
	SHA       string              `json:"sha"`
	Tree      []tree.ListingEntry `json:"tree"`
	Truncated bool                `json:"truncated"`
}

// Tree fetches the recursive listing of branch.
func (c *Client) Tree(ctx context.Context, repo source.Repo, branch string) ([]tree.ListingEntry, bool, error) {
	var resp treeResponse
	path := repoPath(repo) + "/git/trees/" + url.PathEscape(branch) + "?recursive=1"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, false, err
	}
	return resp.Tree, resp.Truncated, nil
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Content fetches and decodes the file at path on ref.
func (c *Client) Content(ctx context.Context, repo source.Repo, ref, path string) (string, error) {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	p := repoPath(repo) + "/contents/" + strings.Join(segments, "/")
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}

	var resp contentResponse
	if err := c.getJSON(ctx, p, &resp); err != nil {
		return "", err
	}
	if resp.Type != "" && resp.Type != "file" {
		return "", fmt.Errorf("github: %s is a %s, not a file", path, resp.Type)
	}
	if resp.Encoding != "base64" {
		return "", fmt.Errorf("github: could not decode %s: encoding %q", path, resp.Encoding)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: could not decode %s: %w", path, err)
	}
	return string(data), nil
}

// Source implements source.Source on top of Client.
type Source struct {
	client *Client
}

// NewSource creates a GitHub source.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// Name returns "github".
func (s *Source) Name() string { return "github" }

// Open resolves the branch and fetches the recursive listing. When the
// repository details cannot be read the default branch is assumed to be
// "main"; a rate limit on that call is still reported.
func (s *Source) Open(ctx context.Context, repo source.Repo) (source.Snapshot, error) {
	branch := repo.Branch
	if branch == "" {
		b, err := s.client.DefaultBranch(ctx, repo)
		switch {
		case err == nil:
			branch = b
		case isRateLimit(err):
			metrics.RecordSourceFetch(s.Name(), "listing", false)
			return nil, err
		default:
			logging.Warn("could not read repository details, assuming main",
				zap.String("repo", repo.FullName()), zap.Error(err))
			branch = DefaultBranch
		}
	}

	entries, truncated, err := s.client.Tree(ctx, repo, branch)
	if err != nil {
		metrics.RecordSourceFetch(s.Name(), "listing", false)
		return nil, fmt.Errorf("fetch tree of %s@%s: %w", repo.FullName(), branch, err)
	}
	metrics.RecordSourceFetch(s.Name(), "listing", true)
	if truncated {
		logging.Warn("repository listing truncated", zap.String("repo", repo.FullName()))
	}

	return &snapshot{
		src:    s,
		repo:   repo,
		forest: tree.FromListing(entries),
		info:   source.Info{Backend: s.Name(), Branch: branch, Truncated: truncated},
	}, nil
}

func isRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

type snapshot struct {
	src    *Source
	repo   source.Repo
	forest *tree.Forest
	info   source.Info
}

func (s *snapshot) Tree() *tree.Forest { return s.forest }

func (s *snapshot) Info() source.Info { return s.info }

func (s *snapshot) ReadFile(ctx context.Context, path string) (string, error) {
	content, err := s.src.client.Content(ctx, s.repo, s.info.Branch, path)
	metrics.RecordSourceFetch(s.src.Name(), "content", err == nil)
	return content, err
}

func (s *snapshot) Close() error { return nil }
