package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(remoteAddr string, headers map[string]string) *http.Request {
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestClientLimiter(t *testing.T) {
	t.Run("reuses the bucket for a client", func(t *testing.T) {
		limiter := NewClientLimiter(100, 10)
		if limiter.Bucket("192.168.1.1") != limiter.Bucket("192.168.1.1") {
			t.Error("Expected same bucket for same client")
		}
		if limiter.Bucket("192.168.1.1") == limiter.Bucket("192.168.1.2") {
			t.Error("Expected separate buckets for separate clients")
		}
	})

	t.Run("evicts the least recently used client", func(t *testing.T) {
		limiter := NewClientLimiter(100, 3)
		first := limiter.Bucket("10.0.0.1")
		for i := 2; i <= 5; i++ {
			limiter.Bucket(fmt.Sprintf("10.0.0.%d", i))
		}
		if n := limiter.Clients(); n != 3 {
			t.Errorf("Expected 3 tracked clients, got %d", n)
		}
		if limiter.Bucket("10.0.0.1") == first {
			t.Error("Expected evicted client to get a fresh bucket")
		}
	})

	t.Run("falls back to the default capacity", func(t *testing.T) {
		limiter := NewClientLimiter(100, 0)
		if limiter.buckets == nil {
			t.Fatal("Expected bucket cache to be created")
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientLimiter(100, 10), false)(okHandler())
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest("192.168.1.1:12345", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Error("Expected X-RateLimit-Remaining header to be set")
		}
	})

	t.Run("returns 429 once the bucket is empty", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientLimiter(10, 10), false)(okHandler())
		var limited int
		for i := 0; i < 20; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, limitedRequest("192.168.1.100:12345", nil))
			if w.Code == http.StatusTooManyRequests {
				limited++
			}
		}
		if limited != 10 {
			t.Errorf("Expected 10 of 20 requests limited, got %d", limited)
		}
	})

	t.Run("limits clients independently", func(t *testing.T) {
		handler := RateLimitMiddleware(NewClientLimiter(5, 10), false)(okHandler())
		for i := 0; i < 10; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("192.168.1.200:12345", nil))
		}

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest("192.168.1.201:12345", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected new client to not be rate limited, got %d", w.Code)
		}
	})

	t.Run("ignores forwarding headers from untrusted clients", func(t *testing.T) {
		limiter := NewClientLimiter(2, 100)
		handler := RateLimitMiddleware(limiter, false)(okHandler())

		var allowed int
		for i := 0; i < 1000; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, limitedRequest("198.51.100.7:4000", map[string]string{
				"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i%250),
				"X-Real-IP":       fmt.Sprintf("192.0.2.%d", i%250),
			}))
			if w.Code == http.StatusOK {
				allowed++
			}
		}
		if allowed != 2 {
			t.Errorf("Expected 2 requests allowed for one peer, got %d", allowed)
		}
		if n := limiter.Clients(); n != 1 {
			t.Errorf("Expected a single tracked client, got %d", n)
		}
	})

	t.Run("memory stays bounded under address churn", func(t *testing.T) {
		limiter := NewClientLimiter(2, 50)
		handler := RateLimitMiddleware(limiter, true)(okHandler())
		for i := 0; i < 1000; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), limitedRequest("10.1.1.1:4000", map[string]string{
				"X-Forwarded-For": fmt.Sprintf("203.0.%d.%d", i/250, i%250),
			}))
		}
		if n := limiter.Clients(); n != 50 {
			t.Errorf("Expected tracked clients capped at 50, got %d", n)
		}
	})
}

func TestRateLimitMiddlewareConcurrent(t *testing.T) {
	limiter := NewClientLimiter(50, 10)
	handler := RateLimitMiddleware(limiter, false)(okHandler())

	var wg sync.WaitGroup
	var allowed int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, limitedRequest("192.168.1.50:12345", nil))
			if w.Code == http.StatusOK {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Expected exactly the burst of 50 allowed, got %d", allowed)
	}
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		want       string
	}{
		{"peer address without proxy trust", false, map[string]string{"X-Forwarded-For": "203.0.113.195", "X-Real-IP": "203.0.113.9"}, "127.0.0.1"},
		{"last forwarded hop behind a trusted proxy", true, map[string]string{"X-Forwarded-For": "6.6.6.6, 203.0.113.195"}, "203.0.113.195"},
		{"single forwarded value", true, map[string]string{"X-Forwarded-For": "203.0.113.195"}, "203.0.113.195"},
		{"X-Real-IP behind a trusted proxy", true, map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"garbage header falls back to peer", true, map[string]string{"X-Forwarded-For": "not-an-ip"}, "127.0.0.1"},
		{"no headers", true, nil, "127.0.0.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := limitedRequest("127.0.0.1:12345", tc.headers)
			if got := clientAddress(req, tc.trustProxy); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestBodySizeLimitMiddleware(t *testing.T) {
	t.Run("allows small POST body", func(t *testing.T) {
		handler := BodySizeLimitMiddleware(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := make([]byte, 100)
			_, err := r.Body.Read(buf)
			if err != nil && err.Error() != "EOF" {
				http.Error(w, "Read error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		body := bytes.NewReader([]byte(`{"test": "data"}`))
		req := httptest.NewRequest("POST", "/test", body)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("rejects oversized POST body", func(t *testing.T) {
		handler := BodySizeLimitMiddleware(100)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := io.ReadAll(r.Body)
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		largeBody := bytes.NewReader(make([]byte, 200))
		req := httptest.NewRequest("POST", "/test", largeBody)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status 413, got %d", w.Code)
		}
	})

	t.Run("does not limit GET requests", func(t *testing.T) {
		handler := BodySizeLimitMiddleware(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})
}

func TestDecodeJSONBody(t *testing.T) {
	t.Run("decodes valid JSON", func(t *testing.T) {
		body := strings.NewReader(`{"name": "test"}`)
		req := httptest.NewRequest("POST", "/test", body)
		w := httptest.NewRecorder()

		var result struct {
			Name string `json:"name"`
		}

		err := DecodeJSONBody(w, req, &result)
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}

		if result.Name != "test" {
			t.Errorf("Expected name 'test', got '%s'", result.Name)
		}
	})

	t.Run("returns error for invalid JSON", func(t *testing.T) {
		body := strings.NewReader(`{invalid json}`)
		req := httptest.NewRequest("POST", "/test", body)
		w := httptest.NewRecorder()

		var result struct{}
		err := DecodeJSONBody(w, req, &result)

		if err == nil {
			t.Error("Expected error for invalid JSON")
		}

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("returns 413 for oversized body", func(t *testing.T) {
		largeBody := strings.NewReader(`{"name":"` + strings.Repeat("x", 200) + `"}`)
		req := httptest.NewRequest("POST", "/test", largeBody)
		req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 100)
		w := httptest.NewRecorder()

		var result struct{}
		err := DecodeJSONBody(w, req, &result)

		if err == nil {
			t.Error("Expected error for oversized body")
		}

		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status 413, got %d", w.Code)
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an ID when none is sent", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/api/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if seen == "" {
			t.Fatal("Expected request ID in context")
		}
		if got := w.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("Expected header %q to match context ID %q", got, seen)
		}
	})

	t.Run("propagates a client supplied ID", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/api/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if seen != "req-123" {
			t.Errorf("Expected 'req-123', got '%s'", seen)
		}
	})

	t.Run("replaces a malformed client ID", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1)} {
			req := httptest.NewRequest("GET", "/api/health", nil)
			req.Header.Set("X-Request-ID", bad)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if seen == bad {
				t.Errorf("Expected malformed ID %q to be replaced", bad)
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("Expected a generated UUID, got %q", seen)
			}
		}
	})
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/passengers/{passenger}/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")

	counter := httpRequestsTotal.WithLabelValues("GET", "/api/passengers/{passenger}/balance", "418")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest("GET", "/api/passengers/0x00000000000000000000000000000000000000b1/balance", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("Expected one request counted under the route template, got %v", got)
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, "duplicate_vote", "already voted")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Success {
		t.Error("Expected success false")
	}
	if resp.Error.Code != "duplicate_vote" || resp.Error.Message != "already voted" {
		t.Errorf("Unexpected error body %+v", resp.Error)
	}
}

func TestIsValidAccountID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"0x0000000000000000000000000000000000000001", true},
		{"0xAbCdEf0123456789abcdef0123456789ABCDEF01", true},
		{"0000000000000000000000000000000000000001", false},
		{"0x000000000000000000000000000000000000001", false},
		{"0x00000000000000000000000000000000000000001", false},
		{"0x000000000000000000000000000000000000000g", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidAccountID(tc.id); got != tc.valid {
			t.Errorf("IsValidAccountID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestIsValidFlightCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"LX1234", true},
		{"ND1309", true},
		{"BA9", true},
		{"U21234A", true},
		{"lx1234", false},
		{"LX", false},
		{"LX1234567", false},
		{"LX 123", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidFlightCode(tc.code); got != tc.valid {
			t.Errorf("IsValidFlightCode(%q) = %v, want %v", tc.code, got, tc.valid)
		}
	}
}

func TestValidateFlightKey(t *testing.T) {
	valid := FlightKey{Airline: "0x0000000000000000000000000000000000000001", Flight: "ND1309", Timestamp: 1700000000}
	if msg := validateFlightKey(valid); msg != "" {
		t.Errorf("Expected valid key, got %q", msg)
	}

	badAirline := valid
	badAirline.Airline = "airline"
	if msg := validateFlightKey(badAirline); msg == "" {
		t.Error("Expected invalid airline to be rejected")
	}

	badTimestamp := valid
	badTimestamp.Timestamp = 0
	if msg := validateFlightKey(badTimestamp); msg == "" {
		t.Error("Expected zero timestamp to be rejected")
	}
}
