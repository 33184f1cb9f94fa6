package witness

import (
	"fmt"
	"sync"

	"tradingcore/internal/events"
	"tradingcore/internal/logging"
)

// entry is the panel's private bookkeeping for one registered witness.
type entry struct {
	witness Witness
	tier    Tier
	status  Status
	health  Health
	muted   bool
}

// Panel holds the registered witness set, routes bars to each within a
// bounded set of claims per loop, and enforces capability and lifecycle
// rules (spec §4.1).
type Panel struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	bus      *events.EventBus
	log      *logging.Logger
}

// NewPanel creates an empty panel.
func NewPanel(bus *events.EventBus) *Panel {
	return &Panel{
		entries: make(map[string]*entry),
		bus:     bus,
		log:     logging.WithComponent("witness-panel"),
	}
}

// Register adds a witness at the given tier. Registration is refused with
// ErrArchitectureViolation if the witness also implements any forbidden
// capability interface.
func (p *Panel) Register(w Witness, tier Tier) error {
	if _, ok := w.(OrderPlacer); ok {
		return p.rejectViolation(w.ID(), "implements OrderPlacer")
	}
	if _, ok := w.(AccountReader); ok {
		return p.rejectViolation(w.ID(), "implements AccountReader")
	}
	if _, ok := w.(PositionSizer); ok {
		return p.rejectViolation(w.ID(), "implements PositionSizer")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[w.ID()]; exists {
		return fmt.Errorf("witness: %s is already registered", w.ID())
	}

	p.entries[w.ID()] = &entry{
		witness: w,
		tier:    tier,
		status:  StatusNew,
		health:  Health{Grade: GradeB},
	}
	return nil
}

func (p *Panel) rejectViolation(witnessID, reason string) error {
	if p.bus != nil {
		p.bus.PublishArchitectureViolation(witnessID, reason)
	}
	p.log.WithField("witness_id", witnessID).WithField("reason", reason).Error("architecture violation at registration")
	return fmt.Errorf("%w: %s %s", ErrArchitectureViolation, witnessID, reason)
}

// Unregister removes a witness entirely.
func (p *Panel) Unregister(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return fmt.Errorf("witness: %s is not registered", id)
	}
	delete(p.entries, id)
	return nil
}

// ListByTier returns the ids of every witness currently at the given tier.
func (p *Panel) ListByTier(tier Tier) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []string
	for id, e := range p.entries {
		if e.tier == tier {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetStatus transitions a witness's lifecycle status.
func (p *Panel) SetStatus(id string, status Status, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness: %s is not registered", id)
	}
	if e.status == StatusRetired {
		return fmt.Errorf("witness: %s is RETIRED, status is terminal", id)
	}

	old := e.status
	e.status = status
	if p.bus != nil {
		p.bus.PublishLifecycleTransition(id, string(old), string(status), reason)
	}
	return nil
}

// SetTier changes a witness's tier. T3 is fixed at registration: neither
// promoting to T3 nor demoting from T3 is permitted (spec §3, §4.1).
func (p *Panel) SetTier(id string, tier Tier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness: %s is not registered", id)
	}
	if e.tier == TierT3 || tier == TierT3 {
		return fmt.Errorf("witness: %s tier change rejected, T3 is fixed at registration", id)
	}
	e.tier = tier
	return nil
}

// SetHealth updates a witness's health snapshot and auto-mutes it if the
// new snapshot crosses the auto-mute threshold.
func (p *Panel) SetHealth(id string, h Health) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return fmt.Errorf("witness: %s is not registered", id)
	}
	e.health = h
	wasMuted := e.muted
	e.muted = h.AutoMute()

	if p.bus != nil && e.muted != wasMuted {
		p.bus.PublishWitnessHealthUpdated(id, string(h.Grade), h.WinRate, h.SampleCount)
	}
	return nil
}

// Health returns a witness's current health snapshot.
func (p *Panel) Health(id string) (Health, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return Health{}, fmt.Errorf("witness: %s is not registered", id)
	}
	return e.health, nil
}

// Status returns a witness's current lifecycle status.
func (p *Panel) Status(id string) (Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return "", fmt.Errorf("witness: %s is not registered", id)
	}
	return e.status, nil
}

// Tier returns a witness's current tier.
func (p *Panel) Tier(id string) (Tier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return 0, fmt.Errorf("witness: %s is not registered", id)
	}
	return e.tier, nil
}

// GenerateClaims runs generate_claim against every registered witness for
// the given bar slice, isolating per-witness failures and applying the
// status/mute filter from spec §4.1: MUTED or non-ACTIVE (except SHADOW)
// witnesses are discarded before they reach the caller.
//
// It returns two claim sets: live claims (from ACTIVE witnesses, to be
// routed to the aggregator) and shadow claims (from SHADOW witnesses, to
// be routed to the shadow recorder only).
func (p *Panel) GenerateClaims(bars []Bar) (live []Claim, shadow []Claim) {
	p.mu.RLock()
	snapshot := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		snapshot = append(snapshot, e)
	}
	p.mu.RUnlock()

	for _, e := range snapshot {
		if e.muted {
			continue
		}
		if e.status != StatusActive && e.status != StatusShadow {
			continue
		}

		claim, err := p.safeGenerateClaim(e.witness, bars)
		if err != nil {
			p.log.WithField("witness_id", e.witness.ID()).WithError(err).Warn("witness error, skipping")
			if p.bus != nil {
				p.bus.PublishClaimDropped(e.witness.ID(), err.Error())
			}
			continue
		}
		if claim == nil {
			continue
		}

		if err := Validate(e.tier, *claim); err != nil {
			if p.bus != nil {
				p.bus.PublishClaimDropped(e.witness.ID(), err.Error())
			}
			continue
		}

		if p.bus != nil {
			p.bus.PublishClaimReceived(e.witness.ID(), string(claim.ClaimType), string(claim.Direction), claim.Confidence)
		}

		if e.status == StatusShadow {
			shadow = append(shadow, *claim)
		} else {
			live = append(live, *claim)
		}
	}

	return live, shadow
}

// safeGenerateClaim isolates a panic or error from one witness so it never
// stalls the loop for the remainder of the panel (spec §4.1).
func (p *Panel) safeGenerateClaim(w Witness, bars []Bar) (claim *Claim, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("witness: %s panicked: %v", w.ID(), r)
		}
	}()
	return w.GenerateClaim(bars)
}
