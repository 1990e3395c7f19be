// Package testutil holds the synthetic scene fixture and HTTP helpers
// shared by the pipeline, job, API and CLI tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode fails the test when got differs from want, quoting
// the response body when one is given.
func AssertStatusCode(t testing.TB, got, want int, body ...string) {
	t.Helper()
	if got != want {
		if len(body) > 0 {
			t.Errorf("status code = %d, want %d: %s", got, want, body[0])
			return
		}
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve sends one request through h. A string body is sent verbatim,
// anything else but nil is JSON-encoded.
func Serve(t testing.TB, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		var err error
		if data, err = json.Marshal(b); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes the recorded body into a T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}
