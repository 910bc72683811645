package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
)

const (
	testOwner     = "0x00000000000000000000000000000000000000f0"
	testAirline   = "0x0000000000000000000000000000000000000001"
	testPassenger = "0x00000000000000000000000000000000000000b1"
)

// testAccount returns a distinct account address with the given prefix byte
func testAccount(prefix byte, i int) string {
	return fmt.Sprintf("0x%02x%038x", prefix, i)
}

func testFlight(airline string) FlightKey {
	return FlightKey{Airline: airline, Flight: "ND1309", Timestamp: 1700000000}
}

// scriptedIndexes replays a fixed sequence of draws
type scriptedIndexes struct {
	values []int
	pos    int
}

func (s *scriptedIndexes) IntN(n int) int {
	v := s.values[s.pos%len(s.values)] % n
	s.pos++
	return v
}

// recordingPayer captures withdrawals and can be told to fail
type recordingPayer struct {
	mu       sync.Mutex
	payments map[string]Amount
	fail     error
}

func newRecordingPayer() *recordingPayer {
	return &recordingPayer{payments: make(map[string]Amount)}
}

func (p *recordingPayer) Pay(_ context.Context, account string, amount Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	total, _ := p.payments[account].Add(amount)
	p.payments[account] = total
	return nil
}

func (p *recordingPayer) paid(account string) Amount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payments[account]
}

func newTestLedger() *Ledger {
	return NewLedger(LedgerOptions{
		Owner:        testOwner,
		FirstAirline: testAirline,
		Indexes:      rand.New(rand.NewPCG(1, 2)),
	})
}

// newScriptedLedger returns a ledger whose index draws follow values
func newScriptedLedger(values ...int) *Ledger {
	return NewLedger(LedgerOptions{
		Owner:        testOwner,
		FirstAirline: testAirline,
		Indexes:      &scriptedIndexes{values: values},
	})
}

// fundAirlines funds the first airline, then registers and funds n-1 more,
// collecting votes from already funded airlines once consensus applies
func fundAirlines(t *testing.T, l *Ledger, n int) []string {
	t.Helper()

	if err := l.FundAirline(testAirline, MinAirlineFunding); err != nil {
		t.Fatalf("Failed to fund first airline: %v", err)
	}
	airlines := []string{testAirline}
	for i := 1; i < n; i++ {
		airline := testAccount(0xa1, i)
		for _, sponsor := range airlines {
			state, err := l.RegisterAirline(airline, sponsor)
			if err != nil {
				t.Fatalf("Failed to register airline %d: %v", i, err)
			}
			if state == AirlineRegistered {
				break
			}
		}
		if err := l.FundAirline(airline, MinAirlineFunding); err != nil {
			t.Fatalf("Failed to fund airline %d: %v", i, err)
		}
		airlines = append(airlines, airline)
	}
	return airlines
}

func TestNewLedgerBootstrap(t *testing.T) {
	l := newTestLedger()

	if !l.IsOperational() {
		t.Error("Expected new ledger to be operational")
	}

	view := l.GetAirline(testAirline)
	if view.State != AirlineRegistered {
		t.Errorf("Expected first airline to start registered, got %s", view.State)
	}
	if l.IsAirline(testAirline) {
		t.Error("Expected first airline not to be an active airline before funding")
	}
	if n := l.GetNumberOfRegisteredAirlines(); n != 0 {
		t.Errorf("Expected 0 funded airlines, got %d", n)
	}
	if !l.Reserve().IsZero() {
		t.Errorf("Expected empty reserve, got %s", l.Reserve())
	}
}

func TestOperationalGate(t *testing.T) {
	t.Run("only the owner may change status", func(t *testing.T) {
		l := newTestLedger()

		err := l.SetOperatingStatus(testAirline, false)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
		if !l.IsOperational() {
			t.Error("Expected ledger to stay operational")
		}

		if err := l.SetOperatingStatus("", false); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized for empty requestor, got %v", err)
		}
	})

	t.Run("setting the same value is idempotent", func(t *testing.T) {
		l := newTestLedger()

		if err := l.SetOperatingStatus(testOwner, true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !l.IsOperational() {
			t.Error("Expected ledger to remain operational")
		}
	})

	t.Run("paused ledger rejects every mutation", func(t *testing.T) {
		l := newTestLedger()
		fundAirlines(t, l, 1)
		if err := l.InsureFlight(testFlight(testAirline), testPassenger, Fraction(1, 2)); err != nil {
			t.Fatalf("Failed to insure: %v", err)
		}
		reserve := l.Reserve()

		if err := l.SetOperatingStatus(testOwner, false); err != nil {
			t.Fatalf("Failed to pause: %v", err)
		}

		checks := map[string]error{}
		_, checks["registerAirline"] = l.RegisterAirline(testAccount(0xa1, 9), testAirline)
		checks["fundAirline"] = l.FundAirline(testAccount(0xa1, 9), MinAirlineFunding)
		checks["insureFlight"] = l.InsureFlight(testFlight(testAirline), testPassenger, Fraction(1, 10))
		_, checks["registerOracle"] = l.RegisterOracle(testAccount(0x0c, 1), OracleRegistrationFee)
		_, checks["fetchFlightStatus"] = l.FetchFlightStatus(testFlight(testAirline))
		checks["submitOracleResponse"] = l.SubmitOracleResponse(testAccount(0x0c, 1), 0, testFlight(testAirline), StatusLateAirline)
		_, checks["withdraw"] = l.Withdraw(context.Background(), testPassenger)

		for op, err := range checks {
			if !errors.Is(err, ErrOperational) {
				t.Errorf("%s: expected ErrOperational, got %v", op, err)
			}
		}

		if got := l.GetInsuredAmount(testFlight(testAirline), testPassenger); got.Cmp(Fraction(1, 2)) != 0 {
			t.Errorf("Expected reads to keep working while paused, got %s", got)
		}
		if l.Reserve().Cmp(reserve) != 0 {
			t.Errorf("Expected reserve unchanged while paused")
		}

		if err := l.SetOperatingStatus(testOwner, true); err != nil {
			t.Fatalf("Failed to resume: %v", err)
		}
		if err := l.InsureFlight(testFlight(testAirline), testPassenger, Fraction(1, 10)); err != nil {
			t.Errorf("Expected insure to succeed after resume, got %v", err)
		}
	})
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, "ok"},
		{ErrOperational, "not_operational"},
		{fmt.Errorf("%w: sponsor", ErrUnauthorized), "unauthorized"},
		{fmt.Errorf("%w: x", ErrDuplicateVote), "duplicate_vote"},
		{fmt.Errorf("%w: x", ErrAlreadyFinalized), "already_finalized"},
		{errors.New("boom"), "internal"},
	}

	for _, tc := range tests {
		if got := errorCode(tc.err); got != tc.code {
			t.Errorf("errorCode(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}

	if !IsNonFatal(fmt.Errorf("late: %w", ErrAlreadyFinalized)) {
		t.Error("Expected wrapped ErrAlreadyFinalized to be non-fatal")
	}
	if IsNonFatal(ErrIndexMismatch) {
		t.Error("Expected ErrIndexMismatch to be fatal")
	}
}

func TestRemoteErrorUnwrapsToSentinel(t *testing.T) {
	err := error(&RemoteError{Code: "already_finalized", Message: "status request already finalized", Status: 409})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Error("Expected remote already_finalized to match ErrAlreadyFinalized")
	}
	if !IsNonFatal(err) {
		t.Error("Expected remote already_finalized to be non-fatal")
	}

	unknown := error(&RemoteError{Code: "rate_limited", Message: "Too Many Requests", Status: 429})
	if errors.Is(unknown, ErrOperational) {
		t.Error("Expected unknown remote code not to match a sentinel")
	}
}
