package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:8000/")

		if c.baseURL != "http://localhost:8000" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://localhost:8000")
		}
		if c.tokens.Token() != "" {
			t.Errorf("token = %q, want empty", c.tokens.Token())
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://localhost:8000",
			WithHTTPClient(hc),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
			WithTokenSource(StaticToken("abc")),
		)
		if c.httpClient != hc || hc.Timeout != 15*time.Second {
			t.Errorf("http client not configured: %v", c.httpClient.Timeout)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if c.tokens.Token() != "abc" {
			t.Errorf("token = %q, want abc", c.tokens.Token())
		}
	})

	t.Run("nil token source keeps default", func(t *testing.T) {
		c := NewClient("http://localhost:8000", WithTokenSource(nil))
		if c.tokens == nil {
			t.Fatal("tokens should not be nil")
		}
	})

	t.Run("token func is read per request", func(t *testing.T) {
		token := "first"
		c := NewClient("http://localhost:8000", WithTokenSource(TokenFunc(func() string { return token })))
		token = "second"
		if got := c.tokens.Token(); got != "second" {
			t.Errorf("token = %q, want second", got)
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Issue not found"}
		expected := "tracker api error 404: Issue not found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("classification", func(t *testing.T) {
		tests := []struct {
			code         int
			retryable    bool
			unauthorized bool
			forbidden    bool
			notFound     bool
		}{
			{500, true, false, false, false},
			{503, true, false, false, false},
			{429, true, false, false, false},
			{400, false, false, false, false},
			{401, false, true, false, false},
			{403, false, false, true, false},
			{404, false, false, false, true},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() for %d = %v", tt.code, got)
			}
			if got := err.IsUnauthorized(); got != tt.unauthorized {
				t.Errorf("IsUnauthorized() for %d = %v", tt.code, got)
			}
			if got := err.IsForbidden(); got != tt.forbidden {
				t.Errorf("IsForbidden() for %d = %v", tt.code, got)
			}
			if got := err.IsNotFound(); got != tt.notFound {
				t.Errorf("IsNotFound() for %d = %v", tt.code, got)
			}
		}
	})

	t.Run("IsUnauthorized through wrapping", func(t *testing.T) {
		err := errors.Join(errors.New("load"), &APIError{StatusCode: 401})
		if !IsUnauthorized(err) {
			t.Error("IsUnauthorized = false for wrapped 401")
		}
		if IsUnauthorized(errors.New("other")) {
			t.Error("IsUnauthorized = true for plain error")
		}
	})
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Invalid credentials"}`, "Invalid credentials"},
		{"validation detail", `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"},{"msg":"field required"}]}`, "value is not a valid email address; field required"},
		{"message field", `{"message":"oops"}`, "oops"},
		{"not json", `internal error`, "Bad Request"},
		{"empty detail", `{"detail":""}`, "Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage(http.StatusBadRequest, []byte(tt.body)); got != tt.want {
				t.Errorf("errorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if !strings.HasPrefix(r.Header.Get("User-Agent"), "issuewatch/") {
				t.Errorf("User-Agent header = %q", r.Header.Get("User-Agent"))
			}
			if r.Header.Get("Authorization") != "Bearer test-token" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-token")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithTokenSource(StaticToken("test-token")))
		body, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request without token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("token override", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer cached" {
				t.Errorf("Authorization header = %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		token := "cached"
		c := NewClient(server.URL, WithTokenSource(StaticToken("current")))
		if _, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test", token: &token}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request with query parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("status") != "OPEN" {
				t.Errorf("status = %q, want %q", r.URL.Query().Get("status"), "OPEN")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		query := url.Values{"status": []string{"OPEN"}}
		if _, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test", query: query}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError with detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "Issue not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 || apiErr.Message != "Issue not found" {
			t.Errorf("APIError = %d %q", apiErr.StatusCode, apiErr.Message)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, request{method: http.MethodGet, path: "/test"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q", body)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("no retry on 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Could not validate credentials"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"})
		if !IsUnauthorized(err) {
			t.Errorf("error = %v, want unauthorized", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error = %v, want max retries exceeded", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 {
			t.Errorf("wrapped error = %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, time.Second))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, request{method: http.MethodGet, path: "/test"})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want deadline exceeded", err)
		}
	})
}
