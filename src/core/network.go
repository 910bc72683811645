package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HTTPBackend serves relay calls from a remote ledger node's HTTP API
type HTTPBackend struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewHTTPBackend creates a backend for the node at baseURL. A non-empty secret signs
// oracle registrations and responses.
func NewHTTPBackend(baseURL string, timeout time.Duration, secret string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

// do sends a JSON request and decodes the envelope's data into out
func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.secret != "" {
		signHTTPRequest(req, payload, b.secret)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response from %s (status %d): %w", path, resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error == nil {
			return &RemoteError{Code: "internal", Message: resp.Status, Status: resp.StatusCode}
		}
		return &RemoteError{Code: env.Error.Code, Message: env.Error.Message, Status: resp.StatusCode}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

type indexesResponse struct {
	Oracle  string `json:"oracle"`
	Indexes []int  `json:"indexes"`
}

func (r indexesResponse) array() ([OracleIndexCount]uint8, error) {
	var indexes [OracleIndexCount]uint8
	if len(r.Indexes) != OracleIndexCount {
		return indexes, fmt.Errorf("expected %d indexes, got %d", OracleIndexCount, len(r.Indexes))
	}
	for i, idx := range r.Indexes {
		indexes[i] = uint8(idx)
	}
	return indexes, nil
}

func (b *HTTPBackend) RegisterOracle(ctx context.Context, oracleID string, stake Amount) ([OracleIndexCount]uint8, error) {
	req := struct {
		Oracle string `json:"oracle"`
		Stake  Amount `json:"stake"`
	}{Oracle: oracleID, Stake: stake}

	var resp indexesResponse
	if err := b.do(ctx, http.MethodPost, "/api/oracles", req, &resp); err != nil {
		return [OracleIndexCount]uint8{}, err
	}
	return resp.array()
}

func (b *HTTPBackend) GetMyIndexes(ctx context.Context, oracleID string) ([OracleIndexCount]uint8, error) {
	var resp indexesResponse
	path := "/api/oracles/" + url.PathEscape(oracleID) + "/indexes"
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return [OracleIndexCount]uint8{}, err
	}
	return resp.array()
}

func (b *HTTPBackend) SubmitOracleResponse(ctx context.Context, oracleID string, index uint8, key FlightKey, status FlightStatus) error {
	req := struct {
		FlightKey
		Index  uint8        `json:"index"`
		Status FlightStatus `json:"status"`
	}{FlightKey: key, Index: index, Status: status}

	path := "/api/oracles/" + url.PathEscape(oracleID) + "/responses"
	return b.do(ctx, http.MethodPost, path, req, nil)
}

// FetchFlightStatus asks the node to open a status request for a flight
func (b *HTTPBackend) FetchFlightStatus(ctx context.Context, key FlightKey) (uint8, error) {
	var resp struct {
		Index uint8 `json:"index"`
	}
	if err := b.do(ctx, http.MethodPost, "/api/flights/status", key, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

// eventStreamURL converts the node URL to the WebSocket event stream URL
func (b *HTTPBackend) eventStreamURL() (string, error) {
	u, err := url.Parse(b.baseURL + "/api/events")
	if err != nil {
		return "", fmt.Errorf("invalid node url %q: %w", b.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported node url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// SubscribeEvents opens the node's event stream. Cancel closes the connection and
// waits for the reader to exit.
func (b *HTTPBackend) SubscribeEvents(ctx context.Context) (<-chan Event, func(), error) {
	streamURL, err := b.eventStreamURL()
	if err != nil {
		return nil, nil, err
	}

	conn, _, err := b.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to event stream %s: %w", streamURL, err)
	}
	logger.Info("Connected to ledger event stream", "url", streamURL)

	events := make(chan Event, DefaultEventBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warn("Event stream read failed", "url", streamURL, "error", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			wg.Wait()
		})
	}
	return events, cancel, nil
}
