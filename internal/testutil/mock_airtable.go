// Package testutil provides a mock Airtable API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// DefaultToken is the token the mock accepts.
const DefaultToken = "pat123.456"

// Request is one request seen by the mock.
type Request struct {
	Path   string
	Query  map[string][]string
	Header http.Header
}

// HasParam reports whether the query string carried key at all.
func (r Request) HasParam(key string) bool {
	_, ok := r.Query[key]
	return ok
}

// Param returns the first value of key.
func (r Request) Param(key string) string {
	if v := r.Query[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// MockAirtable is a configurable fake of the Airtable Web API, mounted below /v0.
type MockAirtable struct {
	server *httptest.Server
	mu     sync.Mutex

	token    string
	pageSize int
	routes   map[string]http.HandlerFunc
	requests []Request
}

// NewMockAirtable starts a mock server. Close it when done.
func NewMockAirtable() *MockAirtable {
	mock := &MockAirtable{
		token:    DefaultToken,
		pageSize: 100,
		routes:   make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v0")

		mock.mu.Lock()
		mock.requests = append(mock.requests, Request{
			Path:   path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		})
		token := mock.token
		handler, exists := mock.routes[path]
		mock.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"type": "AUTHENTICATION_REQUIRED", "message": "Authentication required"},
			})
			return
		}

		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "NOT_FOUND"})
			return
		}
		handler(w, r)
	}))

	return mock
}

// URL returns the API root of the mock (including /v0).
func (m *MockAirtable) URL() string {
	return m.server.URL + "/v0"
}

// Close shuts down the mock server.
func (m *MockAirtable) Close() {
	m.server.Close()
}

// SetPageSize changes how many items list endpoints put on one page.
// It applies to routes registered afterwards.
func (m *MockAirtable) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetHandler sets a custom handler for a path below /v0.
func (m *MockAirtable) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[path] = handler
}

// SetResponse serves a fixed status and JSON body on path.
func (m *MockAirtable) SetResponse(path string, status int, body any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

// SetList serves items under itemsKey on path, split into pages linked by
// "offset" tokens. When stripCommentCount is set, commentCount is removed
// from items unless the request asked for recordMetadata=commentCount, like
// the real records endpoint does.
func (m *MockAirtable) SetList(path, itemsKey string, items []map[string]any, stripCommentCount bool) {
	m.mu.Lock()
	size := m.pageSize
	m.mu.Unlock()
	if size <= 0 {
		size = 100
	}

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if offset := r.URL.Query().Get("offset"); offset != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(offset, "itr/"))
			if err != nil || n < 0 || n > len(items) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "LIST_RECORDS_ITERATOR_NOT_AVAILABLE"})
				return
			}
			start = n
		}

		end := min(start+size, len(items))
		keepMeta := r.URL.Query().Get("recordMetadata") == "commentCount"

		page := make([]map[string]any, 0, end-start)
		for _, item := range items[start:end] {
			item = maps.Clone(item)
			if stripCommentCount && !keepMeta {
				delete(item, "commentCount")
			}
			page = append(page, item)
		}

		body := map[string]any{itemsKey: page}
		if end < len(items) {
			body["offset"] = fmt.Sprintf("itr/%d", end)
		}
		writeJSON(w, http.StatusOK, body)
	})
}

// LoadAccount registers every endpoint needed to back up account.
func (m *MockAirtable) LoadAccount(account Account) {
	bases := make([]map[string]any, 0, len(account.Bases))
	for _, b := range account.Bases {
		bases = append(bases, b.Info)

		tables := make([]map[string]any, 0, len(b.Tables))
		for _, t := range b.Tables {
			tables = append(tables, t.Info)

			baseID, tableID := b.Info["id"].(string), t.Info["id"].(string)
			m.SetList("/"+baseID+"/"+tableID, "records", t.Records, true)
			for recordID, comments := range t.Comments {
				m.SetList("/"+baseID+"/"+tableID+"/"+recordID+"/comments", "comments", comments, false)
			}
		}
		m.SetResponse("/meta/bases/"+b.Info["id"].(string)+"/tables", http.StatusOK, map[string]any{"tables": tables})
	}
	m.SetResponse("/meta/bases", http.StatusOK, map[string]any{"bases": bases})
}

// Requests returns a copy of every request seen so far.
func (m *MockAirtable) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// RequestsTo returns the requests made to path.
func (m *MockAirtable) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// RequestsWithPrefix returns the requests whose path starts with prefix.
func (m *MockAirtable) RequestsWithPrefix(prefix string) []Request {
	var out []Request
	for _, r := range m.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}
