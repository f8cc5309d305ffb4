// Package github talks to the GitHub REST API on behalf of the feedback
// widget: repository checks, file commits through the contents API, and
// issue creation. Submitter runs the full submission protocol on top of it.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"github.com/hazyhaar/feedbackvos/horosafe"
	"github.com/hazyhaar/feedbackvos/internal/domain"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultRawBaseURL = "https://raw.githubusercontent.com"
	DefaultUserAgent  = "feedback-vos"

	acceptHeader = "application/vnd.github.v3+json"
	maxBody      = 10 << 20
)

// APIError is a non-2xx answer from GitHub.
type APIError struct {
	Status  int
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// StatusOf returns the HTTP status of an *APIError in err's chain, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// Repository is the subset of GET /repos/{owner}/{repo} the widget reads.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	HasIssues     *bool  `json:"has_issues"`
}

// IssuesEnabled treats a missing has_issues field as enabled.
func (r *Repository) IssuesEnabled() bool {
	return r.HasIssues == nil || *r.HasIssues
}

// ContentEntry is one file or directory in a contents API answer.
type ContentEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	HTMLURL     string `json:"html_url"`
}

// Contents is the answer of GET /contents/{path}: a directory listing or a
// single file.
type Contents struct {
	IsDir   bool
	Entries []ContentEntry
	File    *ContentEntry
}

// PutFile is the body of PUT /contents/{path}. Content is raw bytes; the
// client base64-encodes it.
type PutFile struct {
	Message string
	Content []byte
	Branch  string
}

// IssueRequest is the body of POST /issues.
type IssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// Issue is the created issue.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	URL     string `json:"url"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL (tests, GitHub Enterprise).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRawBaseURL overrides the host used for fallback file URLs.
func WithRawBaseURL(u string) ClientOption {
	return func(c *Client) { c.rawBaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client. Default: 30s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithRateLimit caps outgoing requests per second. Zero means unlimited.
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = ratelimit.New(rps)
		} else {
			c.limiter = ratelimit.NewUnlimited()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client is a minimal GitHub REST client. The access token travels with
// each call so one Client can serve several repositories.
type Client struct {
	baseURL    string
	rawBaseURL string
	hc         *http.Client
	userAgent  string
	limiter    ratelimit.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		rawBaseURL: DefaultRawBaseURL,
		hc:         &http.Client{Timeout: 30 * time.Second},
		userAgent:  DefaultUserAgent,
		limiter:    ratelimit.NewUnlimited(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetRepository reads the target repository.
func (c *Client) GetRepository(ctx context.Context, t domain.RepositoryTarget) (*Repository, error) {
	var repo Repository
	if err := c.do(ctx, t.Token, http.MethodGet, repoPath(t), nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetContents probes a path in the default branch.
func (c *Client) GetContents(ctx context.Context, t domain.RepositoryTarget, p string) (*Contents, error) {
	var raw json.RawMessage
	if err := c.do(ctx, t.Token, http.MethodGet, contentsPath(t, p), nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []ContentEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("github: decode directory %s: %w", p, err)
		}
		return &Contents{IsDir: true, Entries: entries}, nil
	}
	var entry ContentEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return nil, fmt.Errorf("github: decode contents %s: %w", p, err)
	}
	if entry.Type == "dir" {
		return &Contents{IsDir: true}, nil
	}
	return &Contents{File: &entry}, nil
}

// PutContents creates a file by committing it to branch.
func (c *Client) PutContents(ctx context.Context, t domain.RepositoryTarget, p string, f PutFile) (*ContentEntry, error) {
	body := map[string]string{
		"message": f.Message,
		"content": base64.StdEncoding.EncodeToString(f.Content),
	}
	if f.Branch != "" {
		body["branch"] = f.Branch
	}
	var out struct {
		Content ContentEntry `json:"content"`
	}
	if err := c.do(ctx, t.Token, http.MethodPut, contentsPath(t, p), body, &out); err != nil {
		return nil, err
	}
	return &out.Content, nil
}

// CreateIssue opens an issue.
func (c *Client) CreateIssue(ctx context.Context, t domain.RepositoryTarget, req IssueRequest) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, t.Token, http.MethodPost, repoPath(t)+"/issues", req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// RawURL is the raw.githubusercontent.com address of a committed file.
func (c *Client) RawURL(t domain.RepositoryTarget, branch, p string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBaseURL,
		url.PathEscape(t.Owner), url.PathEscape(t.Repo), branch, escapePath(p))
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("github: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.limiter.Take()
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, maxBody)
	if err != nil {
		return fmt.Errorf("github: read %s %s: %w", method, path, err)
	}
	c.logger.Debug("github: request",
		"method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status), Method: method, Path: path}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("github: decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(data []byte, status string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return e.Message
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		return s
	}
	return status
}

func repoPath(t domain.RepositoryTarget) string {
	return "/repos/" + url.PathEscape(t.Owner) + "/" + url.PathEscape(t.Repo)
}

func contentsPath(t domain.RepositoryTarget, p string) string {
	return repoPath(t) + "/contents/" + escapePath(p)
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
