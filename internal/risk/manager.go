// Package risk holds the equity, drawdown and stop-tracking bookkeeping the
// risk engine's domain checkers read from (spec §4.4). It does not decide
// policy itself — the riskengine package owns thresholds and verdicts — it
// only maintains the rolling numbers those verdicts are computed from.
package risk

import (
	"sync"
	"time"
)

// EquityTracker accumulates equity high-water-mark, drawdown, and daily/
// weekly P&L for one account (the system account, or a single user's
// account inside its UserContext).
type EquityTracker struct {
	mu sync.RWMutex

	peakEquity    float64
	currentEquity float64

	dailyPnL      float64
	weeklyPnL     float64
	dailyResetAt  time.Time
	weeklyResetAt time.Time
}

// NewEquityTracker creates a tracker seeded with the given starting equity.
func NewEquityTracker(startingEquity float64) *EquityTracker {
	now := time.Now().UTC()
	return &EquityTracker{
		peakEquity:    startingEquity,
		currentEquity: startingEquity,
		dailyResetAt:  nextUTCMidnight(now),
		weeklyResetAt: nextUTCMidnight(now).AddDate(0, 0, 7),
	}
}

func nextUTCMidnight(from time.Time) time.Time {
	y, m, d := from.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// UpdateEquity records a new equity mark and folds its delta into the daily
// and weekly P&L tallies, resetting them across UTC day/week boundaries.
func (e *EquityTracker) UpdateEquity(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetIfNeeded()

	delta := equity - e.currentEquity
	e.dailyPnL += delta
	e.weeklyPnL += delta
	e.currentEquity = equity
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
}

func (e *EquityTracker) resetIfNeeded() {
	now := time.Now().UTC()
	if now.After(e.dailyResetAt) {
		e.dailyPnL = 0
		e.dailyResetAt = nextUTCMidnight(now)
	}
	if now.After(e.weeklyResetAt) {
		e.weeklyPnL = 0
		e.weeklyResetAt = nextUTCMidnight(now).AddDate(0, 0, 7)
	}
}

// Drawdown returns the fractional drawdown from the recorded peak.
func (e *EquityTracker) Drawdown() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.peakEquity <= 0 {
		return 0
	}
	dd := (e.peakEquity - e.currentEquity) / e.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// DailyPnLPct returns the day's P&L as a fraction of peak equity.
func (e *EquityTracker) DailyPnLPct() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.peakEquity <= 0 {
		return 0
	}
	return e.dailyPnL / e.peakEquity
}

// WeeklyPnLPct returns the week's P&L as a fraction of peak equity.
func (e *EquityTracker) WeeklyPnLPct() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.peakEquity <= 0 {
		return 0
	}
	return e.weeklyPnL / e.peakEquity
}

// Equity returns the current recorded equity.
func (e *EquityTracker) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentEquity
}

// SizeOrder computes an order quantity as a pure function of account state,
// never mutating it (spec §4.6: "never mutates global state"). maxPositionPct
// is the fraction of equity the caller (operator thresholds, or a user's
// subscription tier) permits in a single position.
func SizeOrder(equity, price, maxPositionPct, leverage float64) float64 {
	if price <= 0 || equity <= 0 || maxPositionPct <= 0 {
		return 0
	}
	notional := equity * maxPositionPct * leverage
	return notional / price
}
