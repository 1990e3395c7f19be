// Package httputil holds the HTTP client abstraction used by remote
// raster access and the JSON response helpers shared by API handlers.
package httputil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/banshee-data/waterextent/internal/version"
)

// HTTPClient abstracts request execution so transports can be swapped
// in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserAgent identifies this build to remote services.
func UserAgent() string {
	return "waterextent/" + version.Version + " (" + version.GitSHA + ")"
}

// StandardClient wraps *http.Client and stamps every request with a
// User-Agent unless the caller set one.
type StandardClient struct {
	*http.Client
	UserAgent string
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c, UserAgent: UserAgent()}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return c.Client.Do(req)
}

// MockHTTPClient replays queued responses in order and records every
// request. Once the queue is drained it answers 200 with an empty body.
type MockHTTPClient struct {
	mu           sync.Mutex
	DoFunc       func(req *http.Request) (*http.Response, error)
	Requests     []*http.Request
	Responses    []*MockResponse
	responseIdx  int
	DefaultError error
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	return m.add(&MockResponse{StatusCode: statusCode, Body: []byte(body), Headers: make(http.Header)})
}

// AddJSONResponse queues v encoded as a JSON body.
func (m *MockHTTPClient) AddJSONResponse(statusCode int, v interface{}) *MockHTTPClient {
	b, err := json.Marshal(v)
	if err != nil {
		return m.AddErrorResponse(err)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return m.add(&MockResponse{StatusCode: statusCode, Body: b, Headers: h})
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	return m.add(&MockResponse{Error: err})
}

func (m *MockHTTPClient) add(r *MockResponse) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, r)
	return m
}

// Do records the request and returns the next queued response. A
// cancelled request context fails like a real transport would.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &http.Response{
			StatusCode: resp.StatusCode,
			Body:       io.NopCloser(bytes.NewReader(resp.Body)),
			Header:     resp.Headers,
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Reset clears all recorded requests and responses.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.Responses = nil
	m.responseIdx = 0
	m.DefaultError = nil
	m.DoFunc = nil
}
