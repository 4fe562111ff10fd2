// Package gitrepo talks to the scenario repository: classification via the
// contents API, template download via the raw-content host, and a locked-down
// git export for CDK projects.
package gitrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
	"github.com/sandboxhq/scenario-deployer/internal/scenario"
)

const (
	defaultAPIHost = "https://api.github.com"
	defaultRawHost = "https://raw.githubusercontent.com"

	templateFileName = "template.yaml"
)

// Coordinates locate the scenario repository and the folder scenarios live in.
type Coordinates struct {
	Org      string
	Repo     string
	BasePath string // repo-relative folder holding scenario directories
	Branch   string // default branch
}

// Entry is one item of a contents-API directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
}

// Client queries the repository API. One Client per process; safe for
// concurrent use.
type Client struct {
	coords     Coordinates
	apiHost    string
	rawHost    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHosts overrides the API and raw-content hosts, mainly for tests.
func WithHosts(apiHost, rawHost string) Option {
	return func(c *Client) {
		c.apiHost = apiHost
		c.rawHost = rawHost
	}
}

// WithToken sets the access token sent on API requests.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a repository client for the given coordinates.
func NewClient(coords Coordinates, opts ...Option) *Client {
	c := &Client{
		coords:     coords,
		apiHost:    defaultAPIHost,
		rawHost:    defaultRawHost,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListContents lists the repository folder at path on the given ref.
// The ref must already satisfy branch syntax rules; it is validated again
// here because this is the last gate before the value reaches a query string.
func (c *Client) ListContents(ctx context.Context, path, ref string) ([]Entry, error) {
	if err := scenario.ValidateBranch(ref); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.apiHost,
		url.PathEscape(c.coords.Org),
		url.PathEscape(c.coords.Repo),
		escapePath(path),
		url.QueryEscape(ref),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient(err, "contents request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrScenarioNotFound, path)
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, &apperrors.RateLimitError{ResetAt: rateLimitReset(resp)}
	default:
		return nil, &apperrors.RepoAPIError{StatusCode: resp.StatusCode}
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode contents listing: %w", err)
	}
	return entries, nil
}

// DownloadTemplate fetches the plain template body for a scenario from the
// raw-content host.
func (c *Client) DownloadTemplate(ctx context.Context, scenarioName, ref string) (string, error) {
	if err := scenario.ValidateName(scenarioName); err != nil {
		return "", err
	}
	if err := scenario.ValidateBranch(ref); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s/%s/%s/%s/%s/%s",
		c.rawHost,
		url.PathEscape(c.coords.Org),
		url.PathEscape(c.coords.Repo),
		escapePath(ref),
		escapePath(c.coords.BasePath),
		url.PathEscape(scenarioName),
		templateFileName,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewTransient(err, "template download failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s/%s", apperrors.ErrScenarioNotFound, scenarioName, templateFileName)
	default:
		return "", &apperrors.RepoAPIError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read template body: %w", err)
	}
	return string(body), nil
}

// CloneURL returns the HTTPS clone URL for the repository.
func (c *Client) CloneURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", c.coords.Org, c.coords.Repo)
}

// Coordinates returns the repository coordinates the client was built with.
func (c *Client) Coordinates() Coordinates {
	return c.coords
}

// escapePath escapes each segment of a slash-separated repo path while
// keeping the separators.
func escapePath(path string) string {
	out := ""
	for i, seg := range splitPath(path) {
		if i > 0 {
			out += "/"
		}
		out += url.PathEscape(seg)
	}
	return out
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

func rateLimitReset(resp *http.Response) time.Time {
	if raw := resp.Header.Get("X-RateLimit-Reset"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
	}
	return time.Now().Add(time.Minute).UTC()
}
