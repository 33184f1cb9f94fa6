// Package tradestate implements the system-wide trading state machine
// (spec §4.5). It serializes every transition through a single mutex and
// persists each one as an audit record, so the current state can always be
// recovered after a restart by reading the most recent transition.
package tradestate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradingcore/internal/database"
	"tradingcore/internal/events"
	"tradingcore/internal/logging"
)

// State is one node of the system trading state machine.
type State string

const (
	StateSystemInit    State = "SYSTEM_INIT"
	StateObserving     State = "OBSERVING"
	StateEligible      State = "ELIGIBLE"
	StateActiveTrading State = "ACTIVE_TRADING"
	StateCooldown      State = "COOLDOWN"
	StateRiskLocked    State = "RISK_LOCKED"
	StateRecovery      State = "RECOVERY"
)

// ErrInvalidTransition is returned for any transition not present in the
// allowed table below.
var ErrInvalidTransition = errors.New("tradestate: invalid transition")

// allowed enumerates every transition spec §4.5 permits. A transition not
// listed here — OBSERVING -> ACTIVE_TRADING, RISK_LOCKED -> ELIGIBLE, and
// COOLDOWN -> ACTIVE_TRADING chief among the forbidden ones — is rejected.
var allowed = map[State]map[State]bool{
	StateSystemInit: {
		StateObserving: true,
	},
	StateObserving: {
		StateEligible:   true,
		StateRiskLocked: true,
	},
	StateEligible: {
		StateActiveTrading: true,
		StateRiskLocked:    true,
	},
	StateActiveTrading: {
		StateCooldown:   true,
		StateRiskLocked: true,
	},
	StateCooldown: {
		StateObserving:  true,
		StateRiskLocked: true,
	},
	StateRiskLocked: {
		StateRecovery: true,
	},
	StateRecovery: {
		StateObserving: true,
	},
}

// Machine holds the current system state and serializes every transition
// through mu so two concurrent callers can never race a transition.
type Machine struct {
	mu      sync.Mutex
	current State
	repo    *database.Repository
	bus     *events.EventBus
	log     *logging.Logger
}

// New creates a machine starting in SYSTEM_INIT. Call Recover afterward to
// restore state from the audit log on process start.
func New(repo *database.Repository, bus *events.EventBus) *Machine {
	return &Machine{
		current: StateSystemInit,
		repo:    repo,
		bus:     bus,
		log:     logging.WithComponent("tradestate"),
	}
}

// Recover restores the machine's current state from the most recent
// persisted transition, if one exists. Call once at startup before serving
// any traffic.
func (m *Machine) Recover(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	latest, err := m.repo.GetLatestStateTransition(ctx)
	if err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}
	if latest == nil {
		return nil
	}

	restored := State(latest.ToState)
	if latest.Reason == "INVALID_TRANSITION" {
		// A rejected attempt never took effect; the machine stayed in FromState.
		restored = State(latest.FromState)
	}

	m.mu.Lock()
	m.current = restored
	m.mu.Unlock()
	return nil
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to move the machine from its current state to to,
// persisting an audit record on success. actor identifies what drove the
// transition ("risk_engine", "operator", "scheduler", a user id, etc.).
func (m *Machine) Transition(ctx context.Context, to State, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if from == to {
		return nil
	}
	if !allowed[from][to] {
		m.recordRejected(ctx, from, to, actor)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if m.repo != nil {
		record := &database.StateTransitionRecord{
			ID:         uuid.NewString(),
			FromState:  string(from),
			ToState:    string(to),
			Reason:     reason,
			Actor:      actor,
			RecordedAt: time.Now(),
		}
		if err := m.repo.CreateStateTransition(ctx, record); err != nil {
			return fmt.Errorf("persisting transition %s -> %s: %w", from, to, err)
		}
	}

	m.current = to
	if m.bus != nil {
		m.bus.PublishStateTransition(string(from), string(to), reason, actor)
	}
	m.log.WithField("from", string(from)).WithField("to", string(to)).WithField("actor", actor).Info("state transition")
	return nil
}

// recordRejected persists the rejected attempt itself as an audit record
// (reason INVALID_TRANSITION), leaving m.current untouched. A rejected
// transition still belongs on the append-only audit stream even though
// it never takes effect.
func (m *Machine) recordRejected(ctx context.Context, from, to State, actor string) {
	if m.repo == nil {
		return
	}
	record := &database.StateTransitionRecord{
		ID:         uuid.NewString(),
		FromState:  string(from),
		ToState:    string(to),
		Reason:     "INVALID_TRANSITION",
		Actor:      actor,
		RecordedAt: time.Now(),
	}
	if err := m.repo.CreateStateTransition(ctx, record); err != nil {
		m.log.WithField("from", string(from)).WithField("to", string(to)).WithError(err).Warn("failed to persist rejected transition audit record")
	}
}

// CanTransition reports whether to is reachable from the current state
// without attempting or persisting the move.
func (m *Machine) CanTransition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allowed[m.current][to]
}
