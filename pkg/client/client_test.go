package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/airtable-backup/pkg/metrics"
	"github.com/Sternrassler/airtable-backup/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// countingPacer records how often it was consulted.
type countingPacer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	cfg := DefaultConfig("pat123.456")
	cfg.BaseURL = serverURL + "/v0"
	cfg.Pacer = ratelimit.NopPacer{}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("pat123.456"),
			expectError: false,
		},
		{
			name:        "empty token",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "airtable token is required",
		},
		{
			name:        "blank token",
			config:      DefaultConfig("   "),
			expectError: true,
			errorMsg:    "airtable token is required",
		},
		{
			name: "empty user agent",
			config: Config{
				Token:          "pat123.456",
				ConnectTimeout: time.Second,
				ReadTimeout:    time.Second,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "relative base url",
			config: Config{
				Token:          "pat123.456",
				UserAgent:      DefaultUserAgent,
				BaseURL:        "api.airtable.com/v0",
				ConnectTimeout: time.Second,
				ReadTimeout:    time.Second,
			},
			expectError: true,
			errorMsg:    `base url must be absolute (got "api.airtable.com/v0")`,
		},
		{
			name: "zero timeouts",
			config: Config{
				Token:     "pat123.456",
				UserAgent: DefaultUserAgent,
			},
			expectError: true,
			errorMsg:    "timeouts must be > 0 (connect 0s, read 0s)",
		},
		{
			name: "zero timeouts with custom http client",
			config: Config{
				Token:      "pat123.456",
				UserAgent:  DefaultUserAgent,
				HTTPClient: &http.Client{},
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("pat123.456")

	if cfg.Token != "pat123.456" {
		t.Errorf("Token = %q, want pat123.456", cfg.Token)
	}
	if cfg.BaseURL != "https://api.airtable.com/v0" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.UserAgent != "backup-airtable" {
		t.Errorf("UserAgent = %q, want backup-airtable", cfg.UserAgent)
	}
	if cfg.ReadTimeout <= cfg.ConnectTimeout {
		t.Errorf("ReadTimeout %v should exceed ConnectTimeout %v", cfg.ReadTimeout, cfg.ConnectTimeout)
	}
}

func TestGet_Headers(t *testing.T) {
	var got http.Header
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		w.Write([]byte(`{"bases": []}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if err := c.Get(context.Background(), "/meta/bases", nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotPath != "/v0/meta/bases" {
		t.Errorf("path = %q, want /v0/meta/bases", gotPath)
	}
	if auth := got.Get("Authorization"); auth != "Bearer pat123.456" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer pat123.456")
	}
	if ua := got.Get("User-Agent"); ua != "backup-airtable" {
		t.Errorf("User-Agent = %q, want backup-airtable", ua)
	}
}

func TestGet_QueryParams(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]string
		wantQuery string
	}{
		{
			name:      "nil params",
			params:    nil,
			wantQuery: "",
		},
		{
			name:      "absent offset omitted",
			params:    map[string]string{"offset": "", "recordMetadata": "commentCount"},
			wantQuery: "recordMetadata=commentCount",
		},
		{
			name:      "all absent",
			params:    map[string]string{"offset": "", "recordMetadata": ""},
			wantQuery: "",
		},
		{
			name:      "offset escaped",
			params:    map[string]string{"offset": "abc/123", "recordMetadata": "commentCount"},
			wantQuery: "offset=abc%2F123&recordMetadata=commentCount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rawQuery string
			var hasOffset bool
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rawQuery = r.URL.RawQuery
				_, hasOffset = r.URL.Query()["offset"]
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			if err := c.Get(context.Background(), "/app123/tbl123", tt.params, nil); err != nil {
				t.Fatalf("Get() error = %v", err)
			}

			if rawQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", rawQuery, tt.wantQuery)
			}
			if tt.params["offset"] == "" && hasOffset {
				t.Error("offset parameter sent although absent")
			}
		})
	}
}

func TestGet_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bases": [{"id": "app123", "name": "Base the First", "permissionLevel": "create"}]}`))
	}))
	defer server.Close()

	var out struct {
		Bases []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"bases"`
	}

	c := newTestClient(t, server.URL)
	if err := c.Get(context.Background(), "/meta/bases", nil, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(out.Bases) != 1 || out.Bases[0].ID != "app123" || out.Bases[0].Name != "Base the First" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestGet_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bases": [`))
	}))
	defer server.Close()

	var out map[string]any
	c := newTestClient(t, server.URL)
	err := c.Get(context.Background(), "/meta/bases", nil, &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "decode /meta/bases response") {
		t.Errorf("error = %q", err)
	}
}

func TestGet_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantClass  ErrorClass
		wantHint   bool
		wantStatus string
	}{
		{"unauthorized", http.StatusUnauthorized, ErrorClassClient, false, "401 Unauthorized"},
		{"forbidden", http.StatusForbidden, ErrorClassClient, true, "403 Forbidden"},
		{"not found", http.StatusNotFound, ErrorClassClient, false, "404 Not Found"},
		{"rate limited", http.StatusTooManyRequests, ErrorClassRateLimit, false, "429 Too Many Requests"},
		{"server error", http.StatusInternalServerError, ErrorClassServer, false, "500 Internal Server Error"},
		{"bad gateway", http.StatusBadGateway, ErrorClassServer, false, "502 Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests++
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(`{"error": {"type": "TEST"}}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			err := c.Get(context.Background(), "/meta/bases", nil, nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.statusCode)
			}
			if apiErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, tt.wantClass)
			}
			if !strings.Contains(err.Error(), tt.wantStatus) {
				t.Errorf("error %q does not contain %q", err, tt.wantStatus)
			}
			if got := strings.Contains(err.Error(), PermissionHint); got != tt.wantHint {
				t.Errorf("hint present = %v, want %v", got, tt.wantHint)
			}
			if IsForbidden(err) != (tt.statusCode == http.StatusForbidden) {
				t.Errorf("IsForbidden() = %v", IsForbidden(err))
			}
			if StatusCode(err) != tt.statusCode {
				t.Errorf("StatusCode(err) = %d", StatusCode(err))
			}
			// no retries
			if requests != 1 {
				t.Errorf("server saw %d requests, want 1", requests)
			}
		})
	}
}

func TestGet_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	err := c.Get(context.Background(), "/meta/bases", nil, nil)

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if netErr.Path != "/meta/bases" {
		t.Errorf("Path = %q", netErr.Path)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode(err) = %d, want 0", StatusCode(err))
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/meta/bases", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestGet_RejectsRelativePath(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if err := c.Get(context.Background(), "meta/bases", nil, nil); err == nil {
		t.Error("expected error for path without leading slash")
	}
}

func TestGet_UsesPacer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	pacer := &countingPacer{}
	cfg := DefaultConfig("pat123.456")
	cfg.BaseURL = server.URL
	cfg.Pacer = pacer
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Get(context.Background(), "/meta/bases", nil, nil); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if pacer.calls != 3 {
		t.Errorf("pacer calls = %d, want 3", pacer.calls)
	}

	// a pacer failure aborts before any request is sent
	pacer.err = errors.New("redis down")
	if err := c.Get(context.Background(), "/meta/bases", nil, nil); err == nil {
		t.Error("expected pacer error")
	}
}

func TestGet_Metrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/tables") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	m := metrics.New()
	cfg := DefaultConfig("pat123.456")
	cfg.BaseURL = server.URL
	cfg.Pacer = ratelimit.NopPacer{}
	cfg.Metrics = m
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Metrics() != m {
		t.Error("Metrics() should return the configured metric set")
	}

	ctx := context.Background()
	_ = c.Get(ctx, "/meta/bases", nil, nil)
	_ = c.Get(ctx, "/app123/tbl123", nil, nil)
	_ = c.Get(ctx, "/app123/tbl123", nil, nil)
	_ = c.Get(ctx, "/meta/bases/app123/tables", nil, nil)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("bases", "200")); got != 1 {
		t.Errorf("bases requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("records", "200")); got != 2 {
		t.Errorf("records requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("tables", "403")); got != 1 {
		t.Errorf("tables 403 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("client")); got != 1 {
		t.Errorf("client errors = %v, want 1", got)
	}
}

func TestEndpointKind(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/meta/bases", "bases"},
		{"/meta/bases/app123/tables", "tables"},
		{"/app123/tbl123", "records"},
		{"/app123/tbl123/rec123/comments", "comments"},
		{"/meta/whoami", "other"},
		{"/app123", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := endpointKind(tt.path); got != tt.expected {
				t.Errorf("endpointKind(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func newTimeoutClient(t *testing.T, serverURL string, readTimeout time.Duration) *Client {
	t.Helper()

	cfg := DefaultConfig("pat123.456")
	cfg.BaseURL = serverURL + "/v0"
	cfg.Pacer = ratelimit.NopPacer{}
	cfg.ReadTimeout = readTimeout
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGet_SlowStreamingBodyCompletes(t *testing.T) {
	readTimeout := 200 * time.Millisecond
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"bases": [`))
		flusher.Flush()
		for i := 0; i < 6; i++ {
			time.Sleep(50 * time.Millisecond)
			if i > 0 {
				w.Write([]byte(`,`))
			}
			w.Write([]byte(`{"id": "app` + strconv.Itoa(i) + `"}`))
			flusher.Flush()
		}
		w.Write([]byte(`]}`))
	}))
	defer server.Close()

	var out struct {
		Bases []struct {
			ID string `json:"id"`
		} `json:"bases"`
	}

	c := newTimeoutClient(t, server.URL, readTimeout)
	start := time.Now()
	if err := c.Get(context.Background(), "/meta/bases", nil, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed < readTimeout {
		t.Errorf("body arrived in %v, expected it to take longer than the read timeout", elapsed)
	}
	if len(out.Bases) != 6 {
		t.Errorf("decoded %d bases, want 6", len(out.Bases))
	}
}

func TestGet_StalledBodyTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bases": [`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	c := newTimeoutClient(t, server.URL, 200*time.Millisecond)
	start := time.Now()
	err := c.Get(context.Background(), "/meta/bases", nil, nil)

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if !strings.Contains(err.Error(), "no data for 200ms") {
		t.Errorf("error = %q, want read timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stalled read took %v", elapsed)
	}
}
