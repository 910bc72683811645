package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
)

// DefaultRelayAgents is the number of oracle accounts a relay operates
const DefaultRelayAgents = 20

const relayIndexCacheSize = 1024

// OracleBackend is the ledger surface the relay needs. It is served in-process by
// the ledger itself or remotely by a node's HTTP API.
type OracleBackend interface {
	RegisterOracle(ctx context.Context, oracleID string, stake Amount) ([OracleIndexCount]uint8, error)
	GetMyIndexes(ctx context.Context, oracleID string) ([OracleIndexCount]uint8, error)
	SubmitOracleResponse(ctx context.Context, oracleID string, index uint8, key FlightKey, status FlightStatus) error
	// SubscribeEvents streams ledger events until cancel is called or ctx ends
	SubscribeEvents(ctx context.Context) (<-chan Event, func(), error)
}

// StatusOracle decides which status an agent reports for a flight
type StatusOracle interface {
	DecideStatus(ctx context.Context, key FlightKey) (FlightStatus, error)
}

// FixedStatusOracle always reports the same status
type FixedStatusOracle FlightStatus

func (f FixedStatusOracle) DecideStatus(context.Context, FlightKey) (FlightStatus, error) {
	return FlightStatus(f), nil
}

// localBackend adapts a Ledger in the same process
type localBackend struct {
	ledger *Ledger
	buffer int
}

// NewLocalBackend serves relay calls directly from the ledger
func NewLocalBackend(ledger *Ledger, buffer int) OracleBackend {
	return &localBackend{ledger: ledger, buffer: buffer}
}

func (b *localBackend) RegisterOracle(_ context.Context, oracleID string, stake Amount) ([OracleIndexCount]uint8, error) {
	return b.ledger.RegisterOracle(oracleID, stake)
}

func (b *localBackend) GetMyIndexes(_ context.Context, oracleID string) ([OracleIndexCount]uint8, error) {
	return b.ledger.GetMyIndexes(oracleID)
}

func (b *localBackend) SubmitOracleResponse(_ context.Context, oracleID string, index uint8, key FlightKey, status FlightStatus) error {
	return b.ledger.SubmitOracleResponse(oracleID, index, key, status)
}

func (b *localBackend) SubscribeEvents(context.Context) (<-chan Event, func(), error) {
	events, cancel := b.ledger.Events().Subscribe(b.buffer)
	return events, cancel, nil
}

// RelayOptions configures an OracleRelay
type RelayOptions struct {
	Agents int
	Status StatusOracle
	// Stake paid per agent; defaults to the registration fee
	Stake Amount
	// Seed namespaces the derived agent accounts so several relays do not collide
	Seed string
}

// OracleRelay operates a pool of oracle agents. It answers every OracleRequest with one
// response per agent holding the requested index.
type OracleRelay struct {
	backend OracleBackend
	status  StatusOracle
	stake   Amount
	agents  []string
	indexes *lru.Cache

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewOracleRelay creates a relay over backend
func NewOracleRelay(backend OracleBackend, opts RelayOptions) (*OracleRelay, error) {
	if opts.Agents <= 0 {
		opts.Agents = DefaultRelayAgents
	}
	if opts.Status == nil {
		opts.Status = FixedStatusOracle(StatusLateAirline)
	}
	if opts.Stake.IsZero() {
		opts.Stake = OracleRegistrationFee
	}

	cache, err := lru.New(relayIndexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}

	agents := make([]string, opts.Agents)
	for i := range agents {
		agents[i] = agentAccount(opts.Seed, i)
	}

	return &OracleRelay{
		backend: backend,
		status:  opts.Status,
		stake:   opts.Stake,
		agents:  agents,
		indexes: cache,
	}, nil
}

// agentAccount derives a stable 20-byte account address for agent i
func agentAccount(seed string, i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("oracle-agent/%s/%d", seed, i)))
	return "0x" + hex.EncodeToString(sum[:20])
}

// Agents returns the relay's oracle accounts
func (r *OracleRelay) Agents() []string {
	out := make([]string, len(r.agents))
	copy(out, r.agents)
	return out
}

// Start registers every agent and begins answering requests in the background
func (r *OracleRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("oracle relay already running")
	}

	if err := r.registerAgents(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, unsubscribe, err := r.backend.SubscribeEvents(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to ledger events: %w", err)
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.run(runCtx, events, unsubscribe, r.done)

	logger.Info("Started oracle relay", "agents", len(r.agents))
	return nil
}

// Stop halts the relay and waits for in-flight responses to finish
func (r *OracleRelay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	logger.Info("Stopped oracle relay")
}

// registerAgents registers each agent, adopting indices of agents registered by a previous run
func (r *OracleRelay) registerAgents(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range r.agents {
		g.Go(func() error {
			indexes, err := r.backend.RegisterOracle(gctx, agent, r.stake)
			if errors.Is(err, ErrAlreadyRegistered) {
				indexes, err = r.backend.GetMyIndexes(gctx, agent)
			}
			if err != nil {
				return fmt.Errorf("failed to register oracle agent %s: %w", agent, err)
			}
			r.indexes.Add(agent, indexes)
			logger.Debug("Registered oracle agent", "oracle", agent, "indexes", fmt.Sprint(indexes))
			return nil
		})
	}
	return g.Wait()
}

func (r *OracleRelay) run(ctx context.Context, events <-chan Event, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Warn("Oracle relay event stream closed")
				return
			}
			if ev.Type != EventOracleRequest {
				continue
			}
			if err := r.respond(ctx, ev); err != nil && ctx.Err() == nil {
				logger.Warn("Oracle relay failed to answer request",
					"airline", ev.Airline,
					"flight", ev.Flight,
					"timestamp", ev.Timestamp,
					"index", ev.Index,
					"error", err)
			}
		}
	}
}

// respond submits one report per agent whose indices include the request index
func (r *OracleRelay) respond(ctx context.Context, ev Event) error {
	key := ev.Key()
	status, err := r.status.DecideStatus(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to decide status for %s: %w", key, err)
	}

	var g errgroup.Group
	for _, agent := range r.agents {
		indexes, err := r.agentIndexes(ctx, agent)
		if err != nil {
			return err
		}
		if !hasIndex(indexes, ev.Index) {
			continue
		}

		g.Go(func() error {
			err := r.backend.SubmitOracleResponse(ctx, agent, ev.Index, key, status)
			if IsNonFatal(err) {
				logger.Debug("Status request already finalized", "oracle", agent, "airline", key.Airline, "flight", key.Flight)
				return nil
			}
			if err != nil {
				return fmt.Errorf("oracle %s: %w", agent, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *OracleRelay) agentIndexes(ctx context.Context, agent string) ([OracleIndexCount]uint8, error) {
	if cached, ok := r.indexes.Get(agent); ok {
		return cached.([OracleIndexCount]uint8), nil
	}
	indexes, err := r.backend.GetMyIndexes(ctx, agent)
	if err != nil {
		return indexes, fmt.Errorf("failed to look up indexes for %s: %w", agent, err)
	}
	r.indexes.Add(agent, indexes)
	return indexes, nil
}

func hasIndex(indexes [OracleIndexCount]uint8, index uint8) bool {
	for _, idx := range indexes {
		if idx == index {
			return true
		}
	}
	return false
}
