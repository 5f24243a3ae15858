// ABOUTME: HTTP transport for the Harbor v2.0 REST API.
// ABOUTME: Handles basic auth, client-side rate limiting, pagination and status classification.

package harbor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	apiPath         = "/api/v2.0"
	defaultPageSize = 100
	maxErrorBody    = 512
)

// Config holds connection settings for a Harbor instance.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	// RateLimit caps requests per second across all goroutines. 0 disables it.
	RateLimit float64
	PageSize  int
}

// StatusError is a non-2xx response from Harbor.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("harbor %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Timeout reports whether the status is a gateway or request timeout.
func (e *StatusError) Timeout() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout
}

// IsNotFound reports whether err is a 404 from Harbor.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client implements providers.RegistryClient against Harbor.
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a Harbor client. The URL may include or omit the
// /api/v2.0 suffix.
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("harbor URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid harbor URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid harbor URL scheme: %q", base.Scheme)
	}
	if !strings.HasSuffix(base.Path, apiPath) {
		base.Path += apiPath
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger.WithFields(logrus.Fields{
		"url":        base.String(),
		"rate_limit": cfg.RateLimit,
		"page_size":  pageSize,
	}).Info("Created Harbor client")

	return &Client{
		baseURL:    base,
		username:   cfg.Username,
		password:   cfg.Password,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Name returns the registry name
func (c *Client) Name() string {
	return "harbor"
}

// endpoint joins already-escaped path segments onto the API base.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.RawPath = u.Path + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path += path
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// get issues a GET and decodes the JSON body into dst.
func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	target := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("harbor GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Harbor request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     http.MethodGet,
			URL:        path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding harbor response for %s: %w", path, err)
	}
	return nil
}

// getAll pages through a list endpoint until a page comes back short.
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	var all []T
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(c.pageSize))

		var items []T
		if err := c.get(ctx, path, query, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < c.pageSize {
			return all, nil
		}
	}
}

// escapeRepo double-escapes repository names as Harbor requires for names
// that contain slashes.
func escapeRepo(repo string) string {
	return url.PathEscape(url.PathEscape(repo))
}
