// Package client provides the Airtable Web API transport: authenticated GET
// requests with pacing, typed failures and request metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/airtable-backup/pkg/logging"
	"github.com/Sternrassler/airtable-backup/pkg/metrics"
	"github.com/Sternrassler/airtable-backup/pkg/ratelimit"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the Airtable Web API root.
	DefaultBaseURL = "https://api.airtable.com/v0"

	// DefaultUserAgent identifies this tool on every request.
	DefaultUserAgent = "backup-airtable"
)

// Client is the Airtable API transport. It is safe to reuse for every request
// of a run; the underlying connection pool is shared.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pacer      ratelimit.Pacer
	metrics    *metrics.Metrics
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Token is the personal access token sent as a bearer token. Required.
	Token string

	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// UserAgent header sent on every request.
	UserAgent string

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers and every gap between
	// two reads of the body; a steadily streaming body is never cut off.
	// Airtable stalls on large exports, so this is much longer than ConnectTimeout.
	ReadTimeout time.Duration

	// Pacer is consulted before every request (default: 5 req/s local pacer).
	Pacer ratelimit.Pacer

	// Metrics receives request metrics (default: a private metric set).
	Metrics *metrics.Metrics

	// HTTPClient overrides the HTTP client built from the timeouts.
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:          token,
		BaseURL:        DefaultBaseURL,
		UserAgent:      DefaultUserAgent,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// New creates a new Airtable client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("airtable token is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.ConnectTimeout <= 0 || cfg.ReadTimeout <= 0 {
			return nil, fmt.Errorf("timeouts must be > 0 (connect %s, read %s)", cfg.ConnectTimeout, cfg.ReadTimeout)
		}
		httpClient = newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	pacer := cfg.Pacer
	if pacer == nil {
		pacer = ratelimit.NewLocalPacer(ratelimit.DefaultInterval)
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		pacer:      pacer,
		metrics:    m,
		config:     cfg,
		logger:     logging.NewLogger("airtable-client"),
	}, nil
}

func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout

	return &http.Client{Transport: transport}
}

// Get requests path (relative to the API root) and decodes the JSON response
// into out. Parameters with an empty value are left out of the query string.
// Non-2xx responses yield *APIError, transport failures *NetworkError.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, out any) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("api path must start with / (got %q)", path)
	}

	endpoint := endpointKind(path)

	waitStart := time.Now()
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("wait for request slot: %w", err)
	}
	c.metrics.PacerWaitSeconds.Observe(time.Since(waitStart).Seconds())

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.buildURL(path, params), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", path).
		Str("query", req.URL.RawQuery).
		Msg("Executing Airtable request")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
		c.metrics.ErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.metrics.RequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		return &NetworkError{Method: http.MethodGet, Path: path, Err: err}
	}
	defer resp.Body.Close()

	var bodyReader io.Reader = resp.Body
	if c.config.ReadTimeout > 0 {
		idle := newIdleReader(resp.Body, c.config.ReadTimeout, cancel)
		defer idle.stop()
		bodyReader = idle
	}

	body, err := io.ReadAll(bodyReader)
	if err != nil && ctx.Err() == nil && reqCtx.Err() != nil {
		err = fmt.Errorf("no data for %s: %w", c.config.ReadTimeout, err)
	}
	c.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	if err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.metrics.RequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return &NetworkError{Method: http.MethodGet, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}

	c.metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		c.metrics.ErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", path).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Airtable request error")

		return &APIError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			ErrorClass: errClass,
			Body:       truncateBody(body),
		}
	}

	c.logger.Debug().
		Str("endpoint", path).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Airtable request complete")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) buildURL(path string, params map[string]string) string {
	query := url.Values{}
	for key, value := range params {
		if value == "" {
			continue
		}
		query.Set(key, value)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// statusText renders "403 Forbidden" even for servers that send a bare code.
func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// endpointKind maps an API path to a low-cardinality metric label.
func endpointKind(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "meta" && parts[1] == "bases":
		return "bases"
	case len(parts) == 4 && parts[0] == "meta" && parts[1] == "bases" && parts[3] == "tables":
		return "tables"
	case len(parts) == 2 && parts[0] != "meta":
		return "records"
	case len(parts) == 4 && parts[0] != "meta" && parts[3] == "comments":
		return "comments"
	default:
		return "other"
	}
}

// Metrics returns the metric set the client reports to.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
