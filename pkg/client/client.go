// Package client talks to a running respawn daemon over its HTTP API. It is
// what the CLI uses with --api, and it can be embedded by other programs that
// want to drive restarts remotely.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL  string        // daemon API root, default "http://127.0.0.1:8080/api"
	Timeout  time.Duration // per-request, default 10s
	Insecure bool          // skip TLS certificate verification
	Logger   *slog.Logger
}

// DefaultConfig targets a daemon on the local machine.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// Client is a typed HTTP client for the daemon API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if cfg.Insecure {
		// #nosec G402 -- verification skip is an explicit operator choice
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// IsReachable reports whether a daemon answers on the configured base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "url", c.baseURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Restart relaunches one worker and reports what the daemon did.
func (c *Client) Restart(ctx context.Context, name string) (RestartResult, error) {
	var res RestartResult
	err := c.do(ctx, http.MethodPost, "/restart", url.Values{"name": {name}}, &res)
	return res, err
}

// RestartAll relaunches every worker the daemon knows about.
func (c *Client) RestartAll(ctx context.Context) ([]RestartResult, error) {
	var res []RestartResult
	err := c.do(ctx, http.MethodPost, "/restart", nil, &res)
	return res, err
}

// Stop terminates the worker's running instances and returns the signaled
// pids. A zero wait leaves the grace window to the daemon.
func (c *Client) Stop(ctx context.Context, name string, wait time.Duration) ([]int, error) {
	q := url.Values{"name": {name}}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	var res stopResponse
	if err := c.do(ctx, http.MethodPost, "/stop", q, &res); err != nil {
		return nil, err
	}
	return res.Signaled, nil
}

// Status fetches one worker's status.
func (c *Client) Status(ctx context.Context, name string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", url.Values{"name": {name}}, &st)
	return st, err
}

// StatusAll fetches the status of every configured worker.
func (c *Client) StatusAll(ctx context.Context) ([]Status, error) {
	var sts []Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &sts)
	return sts, err
}

// History fetches the most recent launch records for one worker.
func (c *Client) History(ctx context.Context, name string, limit int) ([]Record, error) {
	q := url.Values{"name": {name}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var recs []Record
	err := c.do(ctx, http.MethodGet, "/history", q, &recs)
	return recs, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&er); derr == nil && er.Error != "" {
			return fmt.Errorf("daemon: %s", er.Error)
		}
		return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
