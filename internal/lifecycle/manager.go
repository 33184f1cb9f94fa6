package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradingcore/internal/database"
	"tradingcore/internal/events"
	"tradingcore/internal/logging"
	"tradingcore/internal/witness"
)

// Manager drives automatic lifecycle transitions and exposes the two
// manual-approval ones (spec §4.7). It wraps a witness.Panel rather than
// replacing it: the panel remains the single source of truth for status
// and tier, this package only decides when a transition is warranted.
type Manager struct {
	mu       sync.Mutex
	panel    *witness.Panel
	repo     *database.Repository
	bus      *events.EventBus
	log      *logging.Logger
	tracking map[string]*tracking
}

// NewManager creates a lifecycle manager over an existing panel.
func NewManager(panel *witness.Panel, repo *database.Repository, bus *events.EventBus) *Manager {
	return &Manager{
		panel:    panel,
		repo:     repo,
		bus:      bus,
		log:      logging.WithComponent("lifecycle"),
		tracking: make(map[string]*tracking),
	}
}

// RegisterHypothesis registers a newly created witness at T1 or T2 and
// immediately advances it NEW->TESTING, since spec §4.7 treats that first
// transition as automatic "on hypothesis creation" rather than a state a
// witness is meant to sit in. T3 witnesses bypass this subsystem entirely
// and are registered directly ACTIVE by the caller instead.
func (m *Manager) RegisterHypothesis(w witness.Witness, tier witness.Tier) error {
	if tier == witness.TierT3 {
		return fmt.Errorf("lifecycle: T3 witnesses bypass the lifecycle subsystem")
	}
	if err := m.panel.Register(w, tier); err != nil {
		return err
	}

	m.mu.Lock()
	m.tracking[w.ID()] = newTracking()
	m.mu.Unlock()

	return m.panel.SetStatus(w.ID(), witness.StatusTesting, "hypothesis created")
}

// RecordValidationResult folds one round of offline/testing validation
// into a witness's tracked win rate and sample count, and promotes
// TESTING->SHADOW automatically once both thresholds are crossed.
func (m *Manager) RecordValidationResult(id string, winRate float64, sampleCount int) error {
	m.mu.Lock()
	t, ok := m.tracking[id]
	if !ok {
		t = newTracking()
		m.tracking[id] = t
	}
	t.validationWinRate = winRate
	t.validationSampleCount = sampleCount
	m.mu.Unlock()

	if winRate >= ShadowPromotionMinWinRate && sampleCount >= ShadowPromotionMinSampleCount {
		return m.panel.SetStatus(id, witness.StatusShadow, "validation win rate and sample threshold met")
	}
	return nil
}

// PromoteToActive is the manual-approval SHADOW->ACTIVE transition (spec
// §4.7: "promoted at T2 by default"). The caller is expected to be an
// operator action, not an automatic rule.
func (m *Manager) PromoteToActive(id string) error {
	return m.panel.SetStatus(id, witness.StatusActive, "operator promotion from shadow")
}

// PromoteToT1 is the manual-approval T2->T1 tier promotion, gated on 30
// continuous days at grade A (spec §4.7).
func (m *Manager) PromoteToT1(id string, now time.Time) error {
	m.mu.Lock()
	t, ok := m.tracking[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("lifecycle: %s has no tracking history", id)
	}
	if t.daysAtGradeA(now) < T1PromotionMinDaysAtGradeA {
		return fmt.Errorf("lifecycle: %s has not held grade A for %d continuous days", id, T1PromotionMinDaysAtGradeA)
	}
	return m.panel.SetTier(id, witness.TierT1)
}

// Tick applies every automatic rule once, for every tracked witness, using
// the panel's current health snapshot. Call this on a schedule (e.g. once
// per bar or once per health refresh).
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tracking))
	for id := range m.tracking {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.applyAutomaticRules(id, now)
	}
}

func (m *Manager) applyAutomaticRules(id string, now time.Time) {
	health, err := m.panel.Health(id)
	if err != nil {
		return
	}

	m.mu.Lock()
	t := m.tracking[id]
	if t == nil {
		m.mu.Unlock()
		return
	}
	t.recordGrade(health.Grade, now)
	m.mu.Unlock()

	status, tier, err := m.currentStatusAndTier(id)
	if err != nil {
		return
	}
	if tier == witness.TierT3 {
		return
	}

	switch status {
	case witness.StatusActive:
		if health.Grade == witness.GradeD {
			m.beginDegraded(id, now)
			_ = m.panel.SetStatus(id, witness.StatusDegraded, fmt.Sprintf("health grade fell to %s", health.Grade))
		}
	case witness.StatusDegraded:
		if health.Grade == witness.GradeA || health.Grade == witness.GradeB {
			m.clearDegraded(id)
			_ = m.panel.SetStatus(id, witness.StatusActive, fmt.Sprintf("health grade recovered to %s", health.Grade))
			return
		}
		if t.daysDegraded(now) >= DegradedRetirementDays {
			_ = m.panel.SetStatus(id, witness.StatusRetired, fmt.Sprintf("degraded for %d days without recovery", DegradedRetirementDays))
		}
	}
}

func (m *Manager) beginDegraded(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracking[id]
	if t != nil && t.degradedSince == nil {
		start := now
		t.degradedSince = &start
	}
}

func (m *Manager) clearDegraded(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.tracking[id]; t != nil {
		t.degradedSince = nil
	}
}

func (m *Manager) currentStatusAndTier(id string) (witness.Status, witness.Tier, error) {
	tier, err := m.panel.Tier(id)
	if err != nil {
		return "", 0, err
	}
	status, err := m.panel.Status(id)
	if err != nil {
		return "", 0, err
	}
	return status, tier, nil
}
