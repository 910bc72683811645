package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger operation metrics
	ledgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_ledger_operations_total",
		Help: "Total number of ledger operations by result",
	}, []string{"operation", "result"})

	fundedAirlinesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_funded_airlines",
		Help: "Current number of funded airlines",
	})

	openRequestsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_open_status_requests",
		Help: "Current number of status requests awaiting quorum",
	})

	// Oracle metrics
	oracleResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_oracle_responses_total",
		Help: "Total number of oracle responses by reported status and result",
	}, []string{"status", "result"})

	finalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_status_finalizations_total",
		Help: "Total number of finalized status requests by final status",
	}, []string{"status"})

	// Value flow metrics, in wei
	payoutsCreditedWei = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_payouts_credited_wei_total",
		Help: "Total value credited to passengers",
	})

	withdrawalsWei = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_withdrawals_wei_total",
		Help: "Total value withdrawn by passengers",
	})

	// Event bus metrics
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_events_published_total",
		Help: "Total number of ledger events published",
	}, []string{"type"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_events_dropped_total",
		Help: "Total number of events dropped for slow subscribers",
	}, []string{"type"})

	eventSubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_event_subscribers",
		Help: "Current number of event subscribers",
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flightsurety_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordLedgerOperation records the outcome of a ledger operation
func RecordLedgerOperation(operation string, err error) {
	ledgerOperationsTotal.WithLabelValues(operation, errorCode(err)).Inc()
}

// UpdateFundedAirlinesGauge updates the funded airlines gauge
func UpdateFundedAirlinesGauge(count int) {
	fundedAirlinesGauge.Set(float64(count))
}

// UpdateOpenRequestsGauge updates the open status requests gauge
func UpdateOpenRequestsGauge(count int) {
	openRequestsGauge.Set(float64(count))
}

// RecordOracleResponse records an oracle response and how the ledger handled it
func RecordOracleResponse(status FlightStatus, err error) {
	oracleResponsesTotal.WithLabelValues(status.String(), errorCode(err)).Inc()
}

// RecordFinalization records a status request reaching quorum
func RecordFinalization(status FlightStatus) {
	finalizationsTotal.WithLabelValues(status.String()).Inc()
}

// RecordPayoutCredited records value credited to a passenger
func RecordPayoutCredited(amount Amount) {
	payoutsCreditedWei.Add(amount.Float64())
}

// RecordWithdrawal records value paid out to a passenger
func RecordWithdrawal(amount Amount) {
	withdrawalsWei.Add(amount.Float64())
}

// RecordEventPublished records a published ledger event
func RecordEventPublished(eventType EventType) {
	eventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
}

// RecordEventDropped records an event a subscriber had no room for
func RecordEventDropped(eventType EventType) {
	eventsDroppedTotal.WithLabelValues(string(eventType)).Inc()
}

// UpdateEventSubscribersGauge updates the event subscribers gauge
func UpdateEventSubscribersGauge(count int) {
	eventSubscribersGauge.Set(float64(count))
}
