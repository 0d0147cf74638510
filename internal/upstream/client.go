// Package upstream implements the NVD, EPSS, and OSV HTTP clients.
// They share one retrying transport; each source keeps its own decoder
// so raw upstream JSON never crosses the package boundary.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/secscorehq/secscore/pkg/config"
	"github.com/secscorehq/secscore/pkg/logger"
)

// ErrNotFound indicates the upstream has no record for the CVE.
var ErrNotFound = errors.New("record not found upstream")

// Client fetches threat signals from the public upstream APIs.
type Client struct {
	http      *http.Client
	log       *logger.Logger
	timeout   time.Duration
	userAgent string

	nvdBase   string
	epssBase  string
	osvBase   string
	nvdAPIKey string
}

// NewClient builds the shared upstream client: bounded retries with
// uniform jitter between attempts, and no retry on 404.
func NewClient(log *logger.Logger, cfg config.UpstreamConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.Logger = &retryLogger{log: log.WithComponent("upstream-http")}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		http:      rc.StandardClient(),
		log:       log.WithComponent("upstream"),
		timeout:   timeout,
		userAgent: cfg.UserAgent,
		nvdBase:   cfg.NVDBaseURL,
		epssBase:  cfg.EPSSBaseURL,
		osvBase:   cfg.OSVBaseURL,
		nvdAPIKey: cfg.NVDAPIKey,
	}
}

// HTTPClient exposes the shared retrying transport for other fetchers.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// UserAgent returns the configured service user-agent.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// getJSON performs a GET with the common headers and per-request
// timeout. A 404 maps to ErrNotFound without draining retries.
func (c *Client) getJSON(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// retryLogger adapts the slog wrapper to retryablehttp's LeveledLogger.
type retryLogger struct {
	log *logger.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn(msg, keysAndValues...)
}
