package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// APIVersion is sent in the X-API-Version header
const APIVersion = "1.0"

var tracer = otel.Tracer("github.com/flightsurety/ledger")

// APIServer exposes the ledger over HTTP
type APIServer struct {
	ledger    *Ledger
	cfg       *Config
	startTime time.Time
	upgrader  websocket.Upgrader
}

// NewAPIServer creates an API server for the ledger
func NewAPIServer(ledger *Ledger, cfg *Config) *APIServer {
	return &APIServer{
		ledger:    ledger,
		cfg:       cfg,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the mux router with all API endpoints
func (s *APIServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware, MetricsMiddleware, apiVersionMiddleware)

	relayAuth := RelayAuthMiddleware(s.cfg.Relay.AuthSecret, s.cfg.Relay.RequireAuth)

	router.HandleFunc("/api/health", s.HealthCheckHandler).Methods("GET")

	// Operational gate
	router.HandleFunc("/api/operational", s.GetOperationalHandler).Methods("GET")
	router.HandleFunc("/api/operational", s.SetOperationalHandler).Methods("PUT")

	// Airline registry
	router.HandleFunc("/api/airlines", s.RegisterAirlineHandler).Methods("POST")
	router.HandleFunc("/api/airlines", s.GetAirlineCountHandler).Methods("GET")
	router.HandleFunc("/api/airlines/{airline}", s.GetAirlineHandler).Methods("GET")
	router.HandleFunc("/api/airlines/{airline}/fund", s.FundAirlineHandler).Methods("POST")

	// Insurance escrow
	router.HandleFunc("/api/insurance", s.InsureFlightHandler).Methods("POST")
	router.HandleFunc("/api/insurance", s.GetInsuranceHandler).Methods("GET")

	// Oracle consensus
	router.Handle("/api/oracles", relayAuth(http.HandlerFunc(s.RegisterOracleHandler))).Methods("POST")
	router.HandleFunc("/api/oracles/{oracle}/indexes", s.GetOracleIndexesHandler).Methods("GET")
	router.Handle("/api/oracles/{oracle}/responses", relayAuth(http.HandlerFunc(s.SubmitOracleResponseHandler))).Methods("POST")
	router.HandleFunc("/api/flights/status", s.FetchFlightStatusHandler).Methods("POST")
	router.HandleFunc("/api/flights/status", s.GetFlightStatusHandler).Methods("GET")
	router.HandleFunc("/api/flights/requests", s.GetOpenRequestsHandler).Methods("GET")

	// Payouts
	router.HandleFunc("/api/passengers/{passenger}/balance", s.GetBalanceHandler).Methods("GET")
	router.HandleFunc("/api/passengers/{passenger}/withdraw", s.WithdrawHandler).Methods("POST")

	// Event stream
	router.HandleFunc("/api/events", s.EventStreamHandler).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// Handler wraps the router with rate limiting, body limits and tracing
func (s *APIServer) Handler() http.Handler {
	limiter := NewClientLimiter(s.cfg.RateLimitPerMinute, s.cfg.RateLimitClients)
	var handler http.Handler = s.Router()
	handler = BodySizeLimitMiddleware(s.cfg.MaxBodySizeBytes)(handler)
	handler = RateLimitMiddleware(limiter, s.cfg.TrustProxyHeaders)(handler)
	return otelhttp.NewHandler(handler, "flightsurety")
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down gracefully
func (s *APIServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ledger node server", "port", s.cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("Shutting down ledger node server", "timeout", s.cfg.ShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func apiVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", APIVersion)
		next.ServeHTTP(w, r)
	})
}

// Response envelope

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: &apiError{Code: code, Message: message}})
}

// writeLedgerError maps a ledger error onto an HTTP status
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrOperational):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrUnknownEntity):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrNoBalance):
		status = http.StatusConflict
	case errors.Is(err, ErrInsufficientAmount), errors.Is(err, ErrCapExceeded), errors.Is(err, ErrIndexMismatch):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, errorCode(err), err.Error())
}

func startSpan(r *http.Request, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("request.id", GetRequestID(r.Context())))
	return tracer.Start(r.Context(), name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorCode(err))
	}
	span.End()
}

func indexList(indexes [OracleIndexCount]uint8) []int {
	out := make([]int, len(indexes))
	for i, idx := range indexes {
		out[i] = int(idx)
	}
	return out
}

// HealthCheckHandler handles health check requests
func (s *APIServer) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"operational": s.ledger.IsOperational(),
		"uptime":      int64(time.Since(s.startTime).Seconds()),
		"version":     Version,
	})
}

// GetOperationalHandler reports whether the ledger accepts mutations
func (s *APIServer) GetOperationalHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"operational": s.ledger.IsOperational(),
	})
}

// SetOperationalHandler pauses or resumes the ledger
func (s *APIServer) SetOperationalHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requestor   string `json:"requestor"`
		Operational *bool  `json:"operational"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if req.Operational == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "operational is required")
		return
	}

	_, span := startSpan(r, "ledger.SetOperatingStatus", attribute.Bool("operational", *req.Operational))
	err := s.ledger.SetOperatingStatus(req.Requestor, *req.Operational)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"operational": s.ledger.IsOperational(),
	})
}

// RegisterAirlineHandler registers or votes for a candidate airline
func (s *APIServer) RegisterAirlineHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate string `json:"candidate"`
		Sponsor   string `json:"sponsor"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !IsValidAccountID(req.Candidate) || !IsValidAccountID(req.Sponsor) {
		writeError(w, http.StatusBadRequest, "invalid_request", "candidate and sponsor must be account addresses")
		return
	}

	_, span := startSpan(r, "ledger.RegisterAirline",
		attribute.String("airline.candidate", req.Candidate),
		attribute.String("airline.sponsor", req.Sponsor))
	state, err := s.ledger.RegisterAirline(req.Candidate, req.Sponsor)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, s.ledger.GetAirline(req.Candidate))
	logger.Debug("Handled airline registration", "candidate", req.Candidate, "state", state.String(), "requestId", GetRequestID(r.Context()))
}

// GetAirlineCountHandler returns the number of funded airlines
func (s *APIServer) GetAirlineCountHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"registeredAirlines": s.ledger.GetNumberOfRegisteredAirlines(),
	})
}

// GetAirlineHandler returns an airline's governance state
func (s *APIServer) GetAirlineHandler(w http.ResponseWriter, r *http.Request) {
	airlineID := mux.Vars(r)["airline"]
	if !IsValidAccountID(airlineID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid airline address")
		return
	}
	writeSuccess(w, http.StatusOK, s.ledger.GetAirline(airlineID))
}

// FundAirlineHandler pays an airline's stake
func (s *APIServer) FundAirlineHandler(w http.ResponseWriter, r *http.Request) {
	airlineID := mux.Vars(r)["airline"]
	if !IsValidAccountID(airlineID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid airline address")
		return
	}

	var req struct {
		Amount Amount `json:"amount"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}

	_, span := startSpan(r, "ledger.FundAirline",
		attribute.String("airline", airlineID),
		attribute.String("amount", req.Amount.String()))
	err := s.ledger.FundAirline(airlineID, req.Amount)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, s.ledger.GetAirline(airlineID))
}

// InsureFlightHandler buys or tops up a passenger's policy
func (s *APIServer) InsureFlightHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlightKey
		Passenger string `json:"passenger"`
		Amount    Amount `json:"amount"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if msg := validateFlightKey(req.FlightKey); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	if !IsValidAccountID(req.Passenger) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid passenger address")
		return
	}

	_, span := startSpan(r, "ledger.InsureFlight",
		attribute.String("flight.key", req.FlightKey.String()),
		attribute.String("passenger", req.Passenger),
		attribute.String("amount", req.Amount.String()))
	err := s.ledger.InsureFlight(req.FlightKey, req.Passenger, req.Amount)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	policy, _ := s.ledger.GetPolicy(req.FlightKey, req.Passenger)
	writeSuccess(w, http.StatusOK, policy)
}

// GetInsuranceHandler returns the insured amount for a passenger on a flight
func (s *APIServer) GetInsuranceHandler(w http.ResponseWriter, r *http.Request) {
	key, msg := flightKeyFromQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	passenger := r.URL.Query().Get("passenger")
	if !IsValidAccountID(passenger) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid passenger address")
		return
	}

	policy, exists := s.ledger.GetPolicy(key, passenger)
	if !exists {
		policy = PolicyView{FlightKey: key, Passenger: passenger}
	}
	writeSuccess(w, http.StatusOK, policy)
}

// RegisterOracleHandler registers an oracle and returns its indices
func (s *APIServer) RegisterOracleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Oracle string `json:"oracle"`
		Stake  Amount `json:"stake"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if !IsValidAccountID(req.Oracle) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid oracle address")
		return
	}

	_, span := startSpan(r, "ledger.RegisterOracle", attribute.String("oracle", req.Oracle))
	indexes, err := s.ledger.RegisterOracle(req.Oracle, req.Stake)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"oracle":  req.Oracle,
		"indexes": indexList(indexes),
	})
}

// GetOracleIndexesHandler returns an oracle's assigned indices
func (s *APIServer) GetOracleIndexesHandler(w http.ResponseWriter, r *http.Request) {
	oracleID := mux.Vars(r)["oracle"]

	indexes, err := s.ledger.GetMyIndexes(oracleID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"oracle":  oracleID,
		"indexes": indexList(indexes),
	})
}

// SubmitOracleResponseHandler records an oracle's status report
func (s *APIServer) SubmitOracleResponseHandler(w http.ResponseWriter, r *http.Request) {
	oracleID := mux.Vars(r)["oracle"]

	var req struct {
		FlightKey
		Index  *uint8        `json:"index"`
		Status *FlightStatus `json:"status"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if req.Index == nil || req.Status == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "index and status are required")
		return
	}
	if msg := validateFlightKey(req.FlightKey); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	_, span := startSpan(r, "ledger.SubmitOracleResponse",
		attribute.String("oracle", oracleID),
		attribute.Int("oracle.index", int(*req.Index)),
		attribute.String("flight.key", req.FlightKey.String()),
		attribute.Int("flight.status", int(*req.Status)))
	err := s.ledger.SubmitOracleResponse(oracleID, *req.Index, req.FlightKey, *req.Status)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	view, _ := s.ledger.GetStatusRequest(req.FlightKey)
	writeSuccess(w, http.StatusOK, view)
}

// FetchFlightStatusHandler opens a status request and emits an OracleRequest event
func (s *APIServer) FetchFlightStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req FlightKey
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}
	if msg := validateFlightKey(req); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	_, span := startSpan(r, "ledger.FetchFlightStatus", attribute.String("flight.key", req.String()))
	index, err := s.ledger.FetchFlightStatus(req)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]interface{}{
		"index":     index,
		"airline":   req.Airline,
		"flight":    req.Flight,
		"timestamp": req.Timestamp,
	})
}

// GetFlightStatusHandler returns the status request for a flight
func (s *APIServer) GetFlightStatusHandler(w http.ResponseWriter, r *http.Request) {
	key, msg := flightKeyFromQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	view, exists := s.ledger.GetStatusRequest(key)
	if !exists {
		writeError(w, http.StatusNotFound, errorCode(ErrUnknownEntity), "no status request for flight")
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

// GetOpenRequestsHandler lists status requests still awaiting quorum
func (s *APIServer) GetOpenRequestsHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"requests": s.ledger.OpenRequests(),
	})
}

// GetBalanceHandler returns a passenger's withdrawable credit
func (s *APIServer) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	passenger := mux.Vars(r)["passenger"]
	if !IsValidAccountID(passenger) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid passenger address")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"passenger": passenger,
		"balance":   s.ledger.Balance(passenger),
	})
}

// WithdrawHandler pays out a passenger's credit
func (s *APIServer) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	passenger := mux.Vars(r)["passenger"]
	if !IsValidAccountID(passenger) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid passenger address")
		return
	}

	ctx, span := startSpan(r, "ledger.Withdraw", attribute.String("passenger", passenger))
	amount, err := s.ledger.Withdraw(ctx, passenger)
	endSpan(span, err)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"passenger": passenger,
		"amount":    amount,
	})
}
