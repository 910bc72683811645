package main

import (
	"fmt"
)

// RegisterAirline lets a funded sponsor add a candidate airline. While fewer than
// AirlineConsensusThreshold airlines are funded the candidate is registered outright;
// afterwards each call is a vote and registration needs ceil(funded/2) distinct voters.
func (l *Ledger) RegisterAirline(candidate, sponsor string) (AirlineState, error) {
	state, err := l.registerAirline(candidate, sponsor)
	RecordLedgerOperation("registerAirline", err)
	return state, err
}

func (l *Ledger) registerAirline(candidate, sponsor string) (AirlineState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return AirlineUnregistered, err
	}
	if candidate == "" {
		return AirlineUnregistered, fmt.Errorf("%w: candidate airline is required", ErrUnknownEntity)
	}

	if !l.isFundedLocked(sponsor) {
		return l.stateLocked(candidate), fmt.Errorf("%w: sponsor %s is not a funded airline", ErrUnauthorized, sponsor)
	}

	existing := l.airlines[candidate]
	if existing != nil && (existing.State == AirlineRegistered || existing.State == AirlineFunded) {
		return existing.State, fmt.Errorf("%w: airline %s is %s", ErrAlreadyRegistered, candidate, existing.State)
	}

	if l.fundedCount < AirlineConsensusThreshold {
		airline := l.airlineLocked(candidate)
		airline.State = AirlineRegistered
		logger.Info("Registered airline", "airline", candidate, "sponsor", sponsor, "fundedAirlines", l.fundedCount)
		return airline.State, nil
	}

	if existing != nil {
		if _, voted := existing.Votes[sponsor]; voted {
			return existing.State, fmt.Errorf("%w: %s already voted for %s", ErrDuplicateVote, sponsor, candidate)
		}
	}

	airline := l.airlineLocked(candidate)
	airline.Votes[sponsor] = struct{}{}

	needed := votesNeeded(l.fundedCount)
	if len(airline.Votes) >= needed {
		airline.State = AirlineRegistered
		logger.Info("Registered airline by vote",
			"airline", candidate,
			"votes", len(airline.Votes),
			"needed", needed,
			"fundedAirlines", l.fundedCount)
	} else {
		airline.State = AirlinePendingVote
		logger.Info("Recorded airline vote",
			"airline", candidate,
			"voter", sponsor,
			"votes", len(airline.Votes),
			"needed", needed)
	}
	return airline.State, nil
}

// votesNeeded is ceil(funded/2)
func votesNeeded(funded int) int {
	return (funded + 1) / 2
}

// FundAirline activates a registered airline. The stake must meet MinAirlineFunding
// in a single call; a smaller amount is rejected and nothing is accrued.
func (l *Ledger) FundAirline(airlineID string, amount Amount) error {
	err := l.fundAirline(airlineID, amount)
	RecordLedgerOperation("fundAirline", err)
	return err
}

func (l *Ledger) fundAirline(airlineID string, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return err
	}

	airline := l.airlines[airlineID]
	if airline == nil || airline.State != AirlineRegistered {
		return fmt.Errorf("%w: airline %s is %s, must be registered to fund", ErrInvalidState, airlineID, l.stateLocked(airlineID))
	}

	total, overflow := airline.FundedAmount.Add(amount)
	if overflow || total.Cmp(MinAirlineFunding) < 0 {
		return fmt.Errorf("%w: funding %s wei is below the minimum of %s wei", ErrInsufficientAmount, amount, MinAirlineFunding)
	}

	airline.FundedAmount = total
	airline.State = AirlineFunded
	l.fundedCount++
	l.creditReserve(amount)
	UpdateFundedAirlinesGauge(l.fundedCount)

	logger.Info("Funded airline", "airline", airlineID, "amount", amount.String(), "fundedAirlines", l.fundedCount)
	return nil
}

// IsAirline reports whether the airline is funded and active
func (l *Ledger) IsAirline(airlineID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isFundedLocked(airlineID)
}

// GetNumberOfRegisteredAirlines returns the number of funded airlines
func (l *Ledger) GetNumberOfRegisteredAirlines() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fundedCount
}

// GetAirline returns the airline's governance state; unknown airlines are unregistered
func (l *Ledger) GetAirline(airlineID string) AirlineView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if airline, exists := l.airlines[airlineID]; exists {
		return airline.view()
	}
	return AirlineView{ID: airlineID, State: AirlineUnregistered, Votes: []string{}, FundedAmount: Amount{}}
}

func (l *Ledger) isFundedLocked(airlineID string) bool {
	airline, exists := l.airlines[airlineID]
	return exists && airline.State == AirlineFunded
}

func (l *Ledger) stateLocked(airlineID string) AirlineState {
	if airline, exists := l.airlines[airlineID]; exists {
		return airline.State
	}
	return AirlineUnregistered
}

// airlineLocked returns the airline, creating an unregistered entry on first use
func (l *Ledger) airlineLocked(airlineID string) *Airline {
	airline, exists := l.airlines[airlineID]
	if !exists {
		airline = &Airline{
			ID:    airlineID,
			State: AirlineUnregistered,
			Votes: make(map[string]struct{}),
		}
		l.airlines[airlineID] = airline
	}
	return airline
}
