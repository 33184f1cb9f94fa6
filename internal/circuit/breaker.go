// Package circuit tracks rolling loss and trade-rate counters shared by the
// risk engine's account-survival and behavior checkers (spec §4.4). It has
// no opinion about SystemState; it only answers "is this account's recent
// trading history within the operator-owned thresholds".
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"tradingcore/internal/events"
)

// BreakerState mirrors the risk severity levels this tracker can justify on
// its own: NORMAL, COOLDOWN (temporary halt pending a timer), or RISK_LOCKED
// (halt pending an explicit RECOVERY transition).
type BreakerState string

const (
	StateNormal     BreakerState = "normal"
	StateCooldown   BreakerState = "cooldown"
	StateRiskLocked BreakerState = "risk_locked"
)

// Config holds the operator-owned thresholds from spec §4.4. These are hard
// floors; nothing in this package may widen them at runtime.
type Config struct {
	Enabled                  bool
	MaxLossPerHourPct        float64
	MaxConsecutiveLosses     int
	CooldownDuration         time.Duration
	MaxTradesPerMinute       int
	MaxDailyLossPct          float64
	MaxDailyTrades           int
}

// DefaultConfig returns conservative defaults; production wiring overrides
// these from config.RiskConfig.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		MaxLossPerHourPct:    3.0,
		MaxConsecutiveLosses: 3,
		CooldownDuration:     600 * time.Second,
		MaxTradesPerMinute:   10,
		MaxDailyLossPct:      3.0,
		MaxDailyTrades:       100,
	}
}

// Tracker accumulates trade outcomes for one account (the system account or
// one user) and reports whether trading should continue.
type Tracker struct {
	config            *Config
	state             BreakerState
	consecutiveLosses int
	hourlyLossPct     float64
	dailyLossPct      float64
	tradesLastMinute  int
	dailyTrades       int
	lastTripTime      time.Time
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
	minuteResetTime   time.Time
	tripReason        string
	mu                sync.RWMutex
	bus               *events.EventBus
	subjectID         string // "system" or a user id, for audit correlation
}

// NewTracker creates a loss/rate tracker. bus may be nil to disable event
// publication (used in tests).
func NewTracker(config *Config, bus *events.EventBus, subjectID string) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	now := time.Now()
	return &Tracker{
		config:          config,
		state:           StateNormal,
		hourlyResetTime: now.Add(time.Hour),
		dailyResetTime:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		minuteResetTime: now.Add(time.Minute),
		bus:             bus,
		subjectID:       subjectID,
	}
}

// CanTrade reports whether a new trade is permitted and, if not, the reason
// and the severity level the caller should escalate to the risk engine.
func (t *Tracker) CanTrade() (bool, BreakerState, string) {
	if !t.config.Enabled {
		return true, StateNormal, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetCountersIfNeeded()

	if t.state == StateRiskLocked {
		return false, StateRiskLocked, t.tripReason
	}

	if t.state == StateCooldown {
		elapsed := time.Since(t.lastTripTime)
		if elapsed < t.config.CooldownDuration {
			remaining := t.config.CooldownDuration - elapsed
			return false, StateCooldown, fmt.Sprintf("cooldown remaining %v (reason: %s)",
				remaining.Round(time.Second), t.tripReason)
		}
		t.state = StateNormal
	}

	if t.hourlyLossPct >= t.config.MaxLossPerHourPct {
		return false, StateCooldown, fmt.Sprintf("hourly loss %.2f%% >= %.2f%%", t.hourlyLossPct, t.config.MaxLossPerHourPct)
	}
	if t.dailyLossPct >= t.config.MaxDailyLossPct {
		return false, StateCooldown, fmt.Sprintf("daily loss %.2f%% >= %.2f%%", t.dailyLossPct, t.config.MaxDailyLossPct)
	}
	if t.consecutiveLosses >= t.config.MaxConsecutiveLosses {
		return false, StateCooldown, fmt.Sprintf("consecutive losses %d >= %d", t.consecutiveLosses, t.config.MaxConsecutiveLosses)
	}
	if t.tradesLastMinute >= t.config.MaxTradesPerMinute {
		return false, StateCooldown, fmt.Sprintf("rate limit %d trades/minute", t.tradesLastMinute)
	}
	if t.dailyTrades >= t.config.MaxDailyTrades {
		return false, StateCooldown, fmt.Sprintf("daily trade limit %d reached", t.dailyTrades)
	}

	return true, StateNormal, ""
}

// RecordTrade folds one settled trade's P&L percentage into the rolling
// counters and trips the tracker if a threshold is breached.
func (t *Tracker) RecordTrade(pnlPercent float64) {
	if !t.config.Enabled {
		return
	}
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	t.mu.Lock()
	t.resetCountersIfNeeded()
	t.tradesLastMinute++
	t.dailyTrades++

	if pnlPercent < 0 {
		t.consecutiveLosses++
		t.hourlyLossPct += -pnlPercent
		t.dailyLossPct += -pnlPercent
	} else {
		t.consecutiveLosses = 0
		if t.state == StateCooldown {
			t.state = StateNormal
		}
	}
	t.checkAndTrip()
	t.mu.Unlock()
}

func (t *Tracker) checkAndTrip() {
	var reason string
	var level BreakerState

	switch {
	case t.dailyLossPct >= t.config.MaxDailyLossPct:
		reason = fmt.Sprintf("daily loss: %.2f%%", t.dailyLossPct)
		level = StateRiskLocked
	case t.consecutiveLosses >= t.config.MaxConsecutiveLosses:
		reason = fmt.Sprintf("consecutive losses: %d", t.consecutiveLosses)
		level = StateCooldown
	case t.hourlyLossPct >= t.config.MaxLossPerHourPct:
		reason = fmt.Sprintf("hourly loss: %.2f%%", t.hourlyLossPct)
		level = StateCooldown
	}

	if reason != "" {
		t.trip(level, reason)
	}
}

func (t *Tracker) trip(level BreakerState, reason string) {
	t.state = level
	t.lastTripTime = time.Now()
	t.tripReason = reason

	if t.bus != nil {
		t.bus.PublishRiskVerdict(false, string(level), fmt.Sprintf("%s: %s", t.subjectID, reason))
	}
}

func (t *Tracker) resetCountersIfNeeded() {
	now := time.Now()
	if now.After(t.minuteResetTime) {
		t.tradesLastMinute = 0
		t.minuteResetTime = now.Add(time.Minute)
	}
	if now.After(t.hourlyResetTime) {
		t.hourlyLossPct = 0
		t.hourlyResetTime = now.Add(time.Hour)
	}
	if now.After(t.dailyResetTime) {
		t.dailyLossPct = 0
		t.dailyTrades = 0
		t.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset clears the tracker back to normal; used by the state machine's
// RECOVERY transition (spec §4.5).
func (t *Tracker) ForceReset() {
	t.mu.Lock()
	t.state = StateNormal
	t.consecutiveLosses = 0
	t.tripReason = ""
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.PublishRiskVerdict(true, string(StateNormal), "recovery reset")
	}
}

// State returns the current tracker state.
func (t *Tracker) State() BreakerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Stats returns a snapshot of the current counters, used in audit payloads.
func (t *Tracker) Stats() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]interface{}{
		"state":              string(t.state),
		"consecutive_losses": t.consecutiveLosses,
		"hourly_loss_pct":    t.hourlyLossPct,
		"daily_loss_pct":     t.dailyLossPct,
		"trades_last_minute": t.tradesLastMinute,
		"daily_trades":       t.dailyTrades,
		"trip_reason":        t.tripReason,
	}
}
