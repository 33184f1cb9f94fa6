package riskengine

import (
	"sync"

	"tradingcore/internal/witness"
)

// HighCorrelationThreshold and MaxCorrelatedWitnesses are the supplemental
// witness-correlation constants from spec §4.4, grounded in
// original_source's WitnessCorrelationCalculator.
const (
	HighCorrelationThreshold = 0.7
	MaxCorrelatedWitnesses   = 2
	correlationWindowSize    = 50
)

// CorrelationTracker maintains a rolling window of per-witness directional
// contributions across aggregation rounds and computes how many witnesses
// are pairwise highly correlated, so the behavior checker can discount
// apparent consensus that is really just a handful of witnesses agreeing
// with each other.
type CorrelationTracker struct {
	mu      sync.Mutex
	history map[string][]witness.Direction
	round   int
}

// NewCorrelationTracker creates an empty tracker.
func NewCorrelationTracker() *CorrelationTracker {
	return &CorrelationTracker{history: make(map[string][]witness.Direction)}
}

// RecordRound folds one aggregation round's contributing claims into the
// rolling window. Witnesses that did not contribute this round are
// recorded with DirectionNone so alignment between witnesses' histories
// stays round-indexed.
func (c *CorrelationTracker) RecordRound(contributions map[string]witness.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(contributions))
	for id, dir := range contributions {
		seen[id] = true
		c.append(id, dir)
	}
	for id := range c.history {
		if !seen[id] {
			c.append(id, witness.DirectionNone)
		}
	}
	c.round++
}

func (c *CorrelationTracker) append(id string, dir witness.Direction) {
	h := append(c.history[id], dir)
	if len(h) > correlationWindowSize {
		h = h[len(h)-correlationWindowSize:]
	}
	c.history[id] = h
}

// HighlyCorrelatedCount returns the number of distinct witnesses that
// participate in at least one pair exceeding HighCorrelationThreshold.
func (c *CorrelationTracker) HighlyCorrelatedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.history))
	for id := range c.history {
		ids = append(ids, id)
	}

	correlated := make(map[string]bool)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if pairwiseCorrelation(c.history[ids[i]], c.history[ids[j]]) > HighCorrelationThreshold {
				correlated[ids[i]] = true
				correlated[ids[j]] = true
			}
		}
	}
	return len(correlated)
}

// pairwiseCorrelation is the fraction of jointly-active rounds in which
// two witnesses' directions agreed. Rounds where either witness did not
// contribute are excluded from the denominator.
func pairwiseCorrelation(a, b []witness.Direction) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var jointRounds, agreeing int
	for i := 0; i < n; i++ {
		if a[i] == witness.DirectionNone || b[i] == witness.DirectionNone {
			continue
		}
		jointRounds++
		if a[i] == b[i] {
			agreeing++
		}
	}
	if jointRounds == 0 {
		return 0
	}
	return float64(agreeing) / float64(jointRounds)
}
