package main

import (
	"fmt"
	"sync/atomic"
)

// OperationalGate is the process-wide circuit breaker consulted by every mutating operation
type OperationalGate struct {
	owner       string
	operational atomic.Bool
}

// NewOperationalGate creates an open gate controlled by owner
func NewOperationalGate(owner string) *OperationalGate {
	g := &OperationalGate{owner: owner}
	g.operational.Store(true)
	return g
}

func (g *OperationalGate) IsOperational() bool {
	return g.operational.Load()
}

func (g *OperationalGate) Owner() string {
	return g.owner
}

// SetOperatingStatus toggles the gate. Only the owner may change it.
func (g *OperationalGate) SetOperatingStatus(requestor string, operational bool) error {
	if requestor == "" || requestor != g.owner {
		return fmt.Errorf("%w: %s is not the ledger owner", ErrUnauthorized, requestor)
	}

	previous := g.operational.Swap(operational)
	if previous != operational {
		logger.Info("Changed operating status", "operational", operational, "requestor", requestor)
	}
	return nil
}

// requireOperational returns ErrOperational when the gate is closed. Callers hold l.mu.
func (g *OperationalGate) requireOperational() error {
	if !g.operational.Load() {
		return ErrOperational
	}
	return nil
}
