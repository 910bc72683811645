package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Relay authentication header names
const (
	RelaySignatureHeader = "X-Relay-Signature"
	RelayTimestampHeader = "X-Relay-Timestamp"
)

// RelayAuthTimestampTolerance is the maximum age of a signed request (5 minutes)
const RelayAuthTimestampTolerance = 5 * time.Minute

// SignRequest creates an HMAC-SHA256 signature for a request.
// The signature covers: method + path + body + timestamp
func SignRequest(method, path string, body []byte, secret string, timestamp int64) string {
	message := fmt.Sprintf("%s\n%s\n%s\n%d", method, path, string(body), timestamp)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyRequest verifies the HMAC-SHA256 signature of a request.
// Returns false if the timestamp is stale or the signature doesn't match.
func VerifyRequest(method, path string, body []byte, secret string, timestamp int64, signature string) bool {
	now := time.Now().Unix()
	toleranceSec := int64(RelayAuthTimestampTolerance.Seconds())
	if timestamp < now-toleranceSec || timestamp > now+toleranceSec {
		return false
	}

	expectedSig := SignRequest(method, path, body, secret, timestamp)

	// Constant-time comparison
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expectedSig)) == 1
}

// signHTTPRequest sets the relay signature headers on an outgoing request
func signHTTPRequest(req *http.Request, body []byte, secret string) {
	timestamp := time.Now().Unix()
	req.Header.Set(RelayTimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(RelaySignatureHeader, SignRequest(req.Method, req.URL.Path, body, secret, timestamp))
}

// RelayAuthMiddleware rejects unsigned or badly signed requests when required is true
func RelayAuthMiddleware(secret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !required {
				next.ServeHTTP(w, r)
				return
			}

			if secret == "" {
				logger.Error("Relay authentication required but no secret configured")
				writeError(w, http.StatusServiceUnavailable, "auth_misconfigured", "relay authentication is not configured")
				return
			}

			timestamp, err := strconv.ParseInt(r.Header.Get(RelayTimestampHeader), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid relay timestamp")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !VerifyRequest(r.Method, r.URL.Path, body, secret, timestamp, r.Header.Get(RelaySignatureHeader)) {
				logger.Warn("Rejected unsigned relay request", "path", r.URL.Path, "requestId", GetRequestID(r.Context()))
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid relay signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
