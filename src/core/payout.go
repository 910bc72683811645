package main

import (
	"context"
	"fmt"
)

// creditInsureesLocked credits every unpaid policy on the flight with the payout
// multiple of its insured amount. Callers hold l.mu.
func (l *Ledger) creditInsureesLocked(key FlightKey) {
	for passenger, policy := range l.policies[key] {
		if policy.PaidOut || policy.Insured.IsZero() {
			continue
		}

		payout := policy.Insured.MulDiv(PayoutNumerator, PayoutDenominator)
		balance, overflow := l.balances[passenger].Add(payout)
		if overflow {
			logger.Error("Payout overflows passenger balance", "passenger", passenger, "payout", payout.String())
			continue
		}
		l.balances[passenger] = balance
		policy.PaidOut = true
		RecordPayoutCredited(payout)

		credited := payout
		l.events.Publish(Event{
			Type:      EventInsurancePayout,
			Airline:   key.Airline,
			Flight:    key.Flight,
			Timestamp: key.Timestamp,
			Status:    StatusLateAirline,
			Passenger: passenger,
			Amount:    &credited,
		})
		logger.Info("Credited insurance payout",
			"passenger", passenger,
			"airline", key.Airline,
			"flight", key.Flight,
			"timestamp", key.Timestamp,
			"insured", policy.Insured.String(),
			"payout", payout.String())
	}
}

// Balance returns the passenger's withdrawable credit
func (l *Ledger) Balance(passenger string) Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[passenger]
}

// Withdraw pays out the passenger's whole balance. The balance is zeroed before the
// transfer so a concurrent withdraw sees nothing to pay; a failed transfer restores it.
func (l *Ledger) Withdraw(ctx context.Context, passenger string) (Amount, error) {
	amount, err := l.withdraw(ctx, passenger)
	RecordLedgerOperation("withdraw", err)
	return amount, err
}

func (l *Ledger) withdraw(ctx context.Context, passenger string) (Amount, error) {
	l.mu.Lock()
	if err := l.gate.requireOperational(); err != nil {
		l.mu.Unlock()
		return Amount{}, err
	}
	amount := l.balances[passenger]
	if amount.IsZero() {
		l.mu.Unlock()
		return Amount{}, fmt.Errorf("%w: passenger %s", ErrNoBalance, passenger)
	}
	delete(l.balances, passenger)
	l.reserve = l.reserve.Sub(amount)
	l.mu.Unlock()

	if err := l.payer.Pay(ctx, passenger, amount); err != nil {
		l.mu.Lock()
		restored, _ := l.balances[passenger].Add(amount)
		l.balances[passenger] = restored
		l.creditReserve(amount)
		l.mu.Unlock()

		logger.Error("Withdrawal transfer failed, balance restored", "passenger", passenger, "amount", amount.String(), "error", err)
		return Amount{}, fmt.Errorf("transfer to %s failed: %w", passenger, err)
	}

	RecordWithdrawal(amount)
	logger.Info("Withdrew balance", "passenger", passenger, "amount", amount.String())
	return amount, nil
}
