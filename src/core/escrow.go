package main

import (
	"fmt"
)

// InsureFlight adds amount to the passenger's policy on a flight. A premium that
// would take the policy strictly over InsuranceCap is rejected whole.
func (l *Ledger) InsureFlight(key FlightKey, passenger string, amount Amount) error {
	err := l.insureFlight(key, passenger, amount)
	RecordLedgerOperation("insureFlight", err)
	return err
}

func (l *Ledger) insureFlight(key FlightKey, passenger string, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.gate.requireOperational(); err != nil {
		return err
	}
	if passenger == "" {
		return fmt.Errorf("%w: passenger is required", ErrUnknownEntity)
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: premium must be positive", ErrInsufficientAmount)
	}
	if amount.Cmp(InsuranceCap) > 0 {
		return fmt.Errorf("%w: premium %s wei exceeds cap of %s wei", ErrCapExceeded, amount, InsuranceCap)
	}

	var current Amount
	policy := l.policies[key][passenger]
	if policy != nil {
		current = policy.Insured
	}

	total, overflow := current.Add(amount)
	if overflow || total.Cmp(InsuranceCap) > 0 {
		return fmt.Errorf("%w: %s wei insured plus %s wei exceeds cap of %s wei", ErrCapExceeded, current, amount, InsuranceCap)
	}

	if policy == nil {
		byPassenger, exists := l.policies[key]
		if !exists {
			byPassenger = make(map[string]*FlightPolicy)
			l.policies[key] = byPassenger
		}
		policy = &FlightPolicy{Key: key, Passenger: passenger}
		byPassenger[passenger] = policy
	}
	policy.Insured = total
	l.creditReserve(amount)

	logger.Info("Insured flight",
		"airline", key.Airline,
		"flight", key.Flight,
		"timestamp", key.Timestamp,
		"passenger", passenger,
		"premium", amount.String(),
		"insured", total.String())
	return nil
}

// GetInsuredAmount returns the passenger's insured amount, zero when there is no policy
func (l *Ledger) GetInsuredAmount(key FlightKey, passenger string) Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if policy := l.policies[key][passenger]; policy != nil {
		return policy.Insured
	}
	return Amount{}
}

// GetPolicy returns the passenger's policy on a flight
func (l *Ledger) GetPolicy(key FlightKey, passenger string) (PolicyView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if policy := l.policies[key][passenger]; policy != nil {
		return policy.view(), true
	}
	return PolicyView{}, false
}
