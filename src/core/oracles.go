package main

import (
	"fmt"
)

// RegisterOracle registers an oracle and assigns it OracleIndexCount distinct indices.
// The assignment is permanent.
func (l *Ledger) RegisterOracle(oracleID string, stake Amount) ([OracleIndexCount]uint8, error) {
	indexes, err := l.registerOracle(oracleID, stake)
	RecordLedgerOperation("registerOracle", err)
	return indexes, err
}

func (l *Ledger) registerOracle(oracleID string, stake Amount) ([OracleIndexCount]uint8, error) {
	var indexes [OracleIndexCount]uint8
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return indexes, err
	}
	if oracleID == "" {
		return indexes, fmt.Errorf("%w: oracle id is required", ErrUnknownEntity)
	}
	if stake.Cmp(OracleRegistrationFee) < 0 {
		return indexes, fmt.Errorf("%w: stake %s wei is below the registration fee of %s wei", ErrInsufficientAmount, stake, OracleRegistrationFee)
	}

	if existing, exists := l.oracles[oracleID]; exists {
		return existing.Indexes, fmt.Errorf("%w: oracle %s", ErrAlreadyRegistered, oracleID)
	}

	indexes = l.drawIndexesLocked()
	l.oracles[oracleID] = &OracleRegistration{
		OracleID: oracleID,
		Indexes:  indexes,
		Stake:    stake,
	}
	l.creditReserve(stake)

	logger.Info("Registered oracle", "oracle", oracleID, "indexes", fmt.Sprint(indexes))
	return indexes, nil
}

// drawIndexesLocked draws distinct indices, resampling on collision
func (l *Ledger) drawIndexesLocked() [OracleIndexCount]uint8 {
	var indexes [OracleIndexCount]uint8
	for i := range indexes {
		for {
			candidate := l.randomIndexLocked()
			duplicate := false
			for _, prev := range indexes[:i] {
				if prev == candidate {
					duplicate = true
					break
				}
			}
			if !duplicate {
				indexes[i] = candidate
				break
			}
		}
	}
	return indexes
}

func (l *Ledger) randomIndexLocked() uint8 {
	return uint8(l.indexes.IntN(OracleIndexSpace))
}

// GetMyIndexes returns the indices assigned to an oracle
func (l *Ledger) GetMyIndexes(oracleID string) ([OracleIndexCount]uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	oracle, exists := l.oracles[oracleID]
	if !exists {
		return [OracleIndexCount]uint8{}, fmt.Errorf("%w: oracle %s is not registered", ErrUnknownEntity, oracleID)
	}
	return oracle.Indexes, nil
}

// IsOracleRegistered reports whether an oracle has registered
func (l *Ledger) IsOracleRegistered(oracleID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.oracles[oracleID]
	return exists
}

// FetchFlightStatus opens a status request for the flight and emits an OracleRequest.
// While the request is open, repeated calls return the same index and re-emit the event.
// Once finalized, the index is returned with ErrAlreadyFinalized and nothing is emitted.
func (l *Ledger) FetchFlightStatus(key FlightKey) (uint8, error) {
	index, err := l.fetchFlightStatus(key)
	RecordLedgerOperation("fetchFlightStatus", err)
	return index, err
}

func (l *Ledger) fetchFlightStatus(key FlightKey) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return 0, err
	}
	if key.Airline == "" || key.Flight == "" {
		return 0, fmt.Errorf("%w: airline and flight are required", ErrUnknownEntity)
	}

	request, exists := l.requests[key]
	if exists && request.Finalized {
		return request.Index, fmt.Errorf("%w: %s finalized as %s", ErrAlreadyFinalized, key, request.FinalStatus)
	}

	if !exists {
		index := l.randomIndexLocked()
		request = &StatusRequest{
			ID:        statusRequestID(index, key),
			Key:       key,
			Index:     index,
			Responses: make(map[FlightStatus]map[string]struct{}),
		}
		l.requests[key] = request
		l.open.ReplaceOrInsert(request)
		UpdateOpenRequestsGauge(l.open.Len())

		logger.Info("Opened status request",
			"requestId", request.ID,
			"index", index,
			"airline", key.Airline,
			"flight", key.Flight,
			"timestamp", key.Timestamp)
	}

	l.events.Publish(Event{
		Type:      EventOracleRequest,
		Index:     request.Index,
		Airline:   key.Airline,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
	})
	return request.Index, nil
}

// SubmitOracleResponse tallies an oracle's report. The first status value reported by
// OracleQuorum distinct oracles finalizes the request; a late-airline result credits
// every unpaid policy on the flight in the same transaction.
func (l *Ledger) SubmitOracleResponse(oracleID string, index uint8, key FlightKey, status FlightStatus) error {
	err := l.submitOracleResponse(oracleID, index, key, status)
	RecordLedgerOperation("submitOracleResponse", err)
	RecordOracleResponse(status, err)
	return err
}

func (l *Ledger) submitOracleResponse(oracleID string, index uint8, key FlightKey, status FlightStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return err
	}

	oracle, registered := l.oracles[oracleID]
	if !registered {
		return fmt.Errorf("%w: oracle %s is not registered", ErrIndexMismatch, oracleID)
	}
	if !oracle.HasIndex(index) {
		return fmt.Errorf("%w: index %d is not assigned to oracle %s", ErrIndexMismatch, index, oracleID)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status code %d", ErrInvalidState, uint8(status))
	}

	request, exists := l.requests[key]
	if !exists || request.Index != index {
		return fmt.Errorf("%w: no status request for %s at index %d", ErrUnknownEntity, key, index)
	}
	if request.Finalized {
		return fmt.Errorf("%w: %s finalized as %s", ErrAlreadyFinalized, key, request.FinalStatus)
	}

	reporters, exists := request.Responses[status]
	if !exists {
		reporters = make(map[string]struct{})
		request.Responses[status] = reporters
	}
	if _, reported := reporters[oracleID]; reported {
		return nil
	}
	reporters[oracleID] = struct{}{}

	l.events.Publish(Event{
		Type:      EventOracleReport,
		Index:     index,
		Airline:   key.Airline,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
		Status:    status,
		Oracle:    oracleID,
	})
	logger.Debug("Tallied oracle response",
		"requestId", request.ID,
		"oracle", oracleID,
		"status", status.String(),
		"count", len(reporters))

	if len(reporters) >= OracleQuorum {
		l.finalizeLocked(request, status)
	}
	return nil
}

// finalizeLocked records the winning status and triggers payouts
func (l *Ledger) finalizeLocked(request *StatusRequest, status FlightStatus) {
	request.Finalized = true
	request.FinalStatus = status
	l.open.Delete(request)
	UpdateOpenRequestsGauge(l.open.Len())
	RecordFinalization(status)

	key := request.Key
	l.events.Publish(Event{
		Type:      EventFlightStatusInfo,
		Index:     request.Index,
		Airline:   key.Airline,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
		Status:    status,
	})
	logger.Info("Finalized flight status",
		"requestId", request.ID,
		"airline", key.Airline,
		"flight", key.Flight,
		"timestamp", key.Timestamp,
		"status", status.String())

	if status == StatusLateAirline {
		l.creditInsureesLocked(key)
	}
}

// GetStatusRequest returns the status request for a flight
func (l *Ledger) GetStatusRequest(key FlightKey) (StatusRequestView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	request, exists := l.requests[key]
	if !exists {
		return StatusRequestView{}, false
	}
	return request.view(), true
}

// OpenRequests returns requests still awaiting quorum, ordered by flight key
func (l *Ledger) OpenRequests() []StatusRequestView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	views := make([]StatusRequestView, 0, l.open.Len())
	l.open.Ascend(func(request *StatusRequest) bool {
		views = append(views, request.view())
		return true
	})
	return views
}
