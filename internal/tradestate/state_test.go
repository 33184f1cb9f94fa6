package tradestate

import (
	"context"
	"errors"
	"testing"
)

func TestNewMachineStartsInSystemInit(t *testing.T) {
	m := New(nil, nil)
	if m.Current() != StateSystemInit {
		t.Fatalf("Current() = %s, want SYSTEM_INIT", m.Current())
	}
}

func TestTransitionFollowsAllowedPath(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()

	steps := []State{StateObserving, StateEligible, StateActiveTrading, StateCooldown, StateObserving}
	for _, to := range steps {
		if err := m.Transition(ctx, to, "test", "test"); err != nil {
			t.Fatalf("Transition(%s) = %v, want nil", to, err)
		}
	}
	if m.Current() != StateObserving {
		t.Errorf("Current() = %s, want OBSERVING", m.Current())
	}
}

func TestTransitionRejectsObservingToActiveTrading(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()
	_ = m.Transition(ctx, StateObserving, "test", "test")

	err := m.Transition(ctx, StateActiveTrading, "test", "test")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(ACTIVE_TRADING) = %v, want ErrInvalidTransition", err)
	}
	if m.Current() != StateObserving {
		t.Errorf("Current() = %s, want unchanged OBSERVING after rejected transition", m.Current())
	}
}

func TestTransitionRejectsRiskLockedToEligible(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()
	_ = m.Transition(ctx, StateObserving, "test", "test")
	_ = m.Transition(ctx, StateRiskLocked, "drawdown breach", "risk_engine")

	err := m.Transition(ctx, StateEligible, "test", "test")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(ELIGIBLE) from RISK_LOCKED = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionRejectsCooldownToActiveTrading(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()
	_ = m.Transition(ctx, StateObserving, "test", "test")
	_ = m.Transition(ctx, StateEligible, "test", "test")
	_ = m.Transition(ctx, StateActiveTrading, "test", "test")
	_ = m.Transition(ctx, StateCooldown, "normal cooldown", "risk_engine")

	err := m.Transition(ctx, StateActiveTrading, "test", "test")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition(ACTIVE_TRADING) from COOLDOWN = %v, want ErrInvalidTransition", err)
	}
}

func TestRiskLockedRequiresRecoveryBeforeObserving(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()
	_ = m.Transition(ctx, StateObserving, "test", "test")
	_ = m.Transition(ctx, StateRiskLocked, "drawdown breach", "risk_engine")

	if err := m.Transition(ctx, StateRecovery, "operator cleared lock", "operator"); err != nil {
		t.Fatalf("Transition(RECOVERY) = %v, want nil", err)
	}
	if err := m.Transition(ctx, StateObserving, "recovery complete", "operator"); err != nil {
		t.Fatalf("Transition(OBSERVING) from RECOVERY = %v, want nil", err)
	}
}

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	m := New(nil, nil)
	ctx := context.Background()
	if err := m.Transition(ctx, StateSystemInit, "test", "test"); err != nil {
		t.Fatalf("Transition to current state = %v, want nil", err)
	}
}

func TestCanTransitionReflectsAllowedTable(t *testing.T) {
	m := New(nil, nil)
	if !m.CanTransition(StateObserving) {
		t.Errorf("CanTransition(OBSERVING) = false from SYSTEM_INIT, want true")
	}
	if m.CanTransition(StateActiveTrading) {
		t.Errorf("CanTransition(ACTIVE_TRADING) = true from SYSTEM_INIT, want false")
	}
}
