package main

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/google/btree"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Package-level logger
var logger = slog.Default()

// initLogger initializes the structured logger based on the log level.
// When logFile is set, output goes to a size-rotated file instead of stdout.
func initLogger(logLevel string, logFile *LogFileConfig) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if logFile != nil && logFile.Path != "" {
		out = &lumberjack.Logger{
			Filename:   logFile.Path,
			MaxSize:    logFile.MaxSizeMB,
			MaxBackups: logFile.MaxBackups,
			MaxAge:     logFile.MaxAgeDays,
			Compress:   logFile.Compress,
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// IndexSource supplies pseudo-random oracle indices. *rand.Rand from math/rand/v2 satisfies it.
type IndexSource interface {
	IntN(n int) int
}

// Payer moves value out of the ledger to an external account
type Payer interface {
	Pay(ctx context.Context, account string, amount Amount) error
}

// logPayer records transfers without moving funds anywhere
type logPayer struct{}

func (logPayer) Pay(_ context.Context, account string, amount Amount) error {
	logger.Info("Transferred withdrawal", "passenger", account, "amount", amount.String())
	return nil
}

// LedgerOptions configures a new ledger
type LedgerOptions struct {
	// Owner controls the operational gate
	Owner string
	// FirstAirline starts registered so that it can fund and sponsor others
	FirstAirline string
	Indexes      IndexSource
	Payer        Payer
	Events       *EventBus
}

const requestTreeDegree = 8

// Ledger holds governance, escrow, and consensus state. One lock serializes all
// mutations so cross-entity effects (finalize then pay out) are atomic.
type Ledger struct {
	gate *OperationalGate

	mu          sync.RWMutex
	airlines    map[string]*Airline
	fundedCount int
	policies    map[FlightKey]map[string]*FlightPolicy
	oracles     map[string]*OracleRegistration
	requests    map[FlightKey]*StatusRequest
	open        *btree.BTreeG[*StatusRequest]
	balances    map[string]Amount
	reserve     Amount

	indexes IndexSource
	payer   Payer
	events  *EventBus
}

// NewLedger creates an operational ledger
func NewLedger(opts LedgerOptions) *Ledger {
	indexes := opts.Indexes
	if indexes == nil {
		indexes = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	payer := opts.Payer
	if payer == nil {
		payer = logPayer{}
	}
	events := opts.Events
	if events == nil {
		events = NewEventBus()
	}

	l := &Ledger{
		gate:     NewOperationalGate(opts.Owner),
		airlines: make(map[string]*Airline),
		policies: make(map[FlightKey]map[string]*FlightPolicy),
		oracles:  make(map[string]*OracleRegistration),
		requests: make(map[FlightKey]*StatusRequest),
		open: btree.NewG(requestTreeDegree, func(a, b *StatusRequest) bool {
			return a.Key.Less(b.Key)
		}),
		balances: make(map[string]Amount),
		indexes:  indexes,
		payer:    payer,
		events:   events,
	}

	if opts.FirstAirline != "" {
		l.airlines[opts.FirstAirline] = &Airline{
			ID:    opts.FirstAirline,
			State: AirlineRegistered,
			Votes: make(map[string]struct{}),
		}
	}

	logger.Info("Initialized ledger", "owner", opts.Owner, "firstAirline", opts.FirstAirline)
	return l
}

// Gate returns the ledger's operational gate
func (l *Ledger) Gate() *OperationalGate {
	return l.gate
}

// Events returns the bus ledger events are published on
func (l *Ledger) Events() *EventBus {
	return l.events
}

func (l *Ledger) IsOperational() bool {
	return l.gate.IsOperational()
}

// SetOperatingStatus waits for in-flight mutations, so none commits after a pause returns
func (l *Ledger) SetOperatingStatus(requestor string, operational bool) error {
	l.mu.Lock()
	err := l.gate.SetOperatingStatus(requestor, operational)
	l.mu.Unlock()
	RecordLedgerOperation("setOperatingStatus", err)
	return err
}

// Reserve returns the value held by the ledger
func (l *Ledger) Reserve() Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserve
}

// creditReserve adds value paid into the ledger. Callers hold l.mu.
func (l *Ledger) creditReserve(amount Amount) {
	if sum, overflow := l.reserve.Add(amount); !overflow {
		l.reserve = sum
	}
}
