package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

// ClientLimiter keeps a token bucket per client address. Buckets live in an LRU, so
// a flood of new addresses evicts idle clients instead of growing without bound.
type ClientLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache
	every   rate.Limit
	burst   int
}

// NewClientLimiter allows requestsPerMinute per client and tracks at most maxClients
func NewClientLimiter(requestsPerMinute, maxClients int) *ClientLimiter {
	if maxClients <= 0 {
		maxClients = DefaultRateLimitClients
	}
	// lru.New only fails for a non-positive size
	buckets, _ := lru.New(maxClients)
	return &ClientLimiter{
		buckets: buckets,
		every:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   requestsPerMinute,
	}
}

// Bucket returns the token bucket for client, creating it on first use
func (c *ClientLimiter) Bucket(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.buckets.Get(client); ok {
		return cached.(*rate.Limiter)
	}
	bucket := rate.NewLimiter(c.every, c.burst)
	c.buckets.Add(client, bucket)
	return bucket
}

// Clients reports how many client buckets are held
func (c *ClientLimiter) Clients() int {
	return c.buckets.Len()
}

// RateLimitMiddleware answers 429 once a client's bucket is empty. Forwarding headers
// identify the client only when trustProxy is set.
func RateLimitMiddleware(limiter *ClientLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := limiter.Bucket(clientAddress(r, trustProxy))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(bucket.Tokens())))

			if !bucket.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddress is the peer address, or with trustProxy the hop our proxy appended to
// X-Forwarded-For (then X-Real-IP). Header values that are not IPs are ignored.
func clientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(hops[len(hops)-1])); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BodySizeLimitMiddleware caps request bodies on the verbs that carry one
func BodySizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DecodeJSONBody decodes the request into dst and writes the 413 or 400 envelope on failure
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
	} else {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
	}
	return err
}

type contextKey string

const requestIDKey contextKey = "requestID"

// maxRequestIDLength bounds client supplied request IDs before they reach logs and spans
const maxRequestIDLength = 128

// RequestIDMiddleware tags each request with an ID, echoing a well-formed X-Request-ID
// from the client and minting a UUID otherwise
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !isPrintableID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func isPrintableID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// GetRequestID returns the ID RequestIDMiddleware stored on ctx
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// MetricsMiddleware counts and times requests per route template
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps account addresses out of metric labels
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}

// statusResponseWriter wraps http.ResponseWriter to capture status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the event stream upgrade connections through the wrapper
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
