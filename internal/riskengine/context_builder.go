package riskengine

import (
	"tradingcore/internal/circuit"
	"tradingcore/internal/risk"
	"tradingcore/internal/witness"
)

// ContextBuilder assembles a RiskContext snapshot from the rolling
// trackers each account (the system account, or one user's account) owns:
// the loss/rate circuit breaker, the equity/drawdown tracker, the
// stop-loss tracker, and the witness correlation tracker. Evaluate itself
// stays a pure function of the RiskContext it's handed; this type is
// where that snapshot gets assembled from mutable account state.
type ContextBuilder struct {
	SubjectID   string
	Breaker     *circuit.Tracker
	Equity      *risk.EquityTracker
	Stops       *risk.StopTracker
	Correlation *CorrelationTracker
}

// Build reads the breaker and the equity tracker once, records
// contributingClaims as one round in the correlation tracker, and returns
// an immutable RiskContext. Stops is not read here; whether the last
// position closed via a stop arrives as closedViaStopLoss. The position
// fractions, leverage, regimeConflict, and contributingClaims also come
// from the current decision rather than any tracker, since they describe
// the trade under consideration, not account history.
func (b *ContextBuilder) Build(currentPositionPct, proposedPositionPct, leverage float64, closedViaStopLoss, regimeConflict bool, contributingClaims map[string]witness.Direction) RiskContext {
	canTrade, breakerState, _ := b.Breaker.CanTrade()

	ctx := RiskContext{
		SubjectID:           b.SubjectID,
		Equity:              b.Equity.Equity(),
		Drawdown:            b.Equity.Drawdown(),
		DailyPnLPct:         b.Equity.DailyPnLPct(),
		WeeklyPnLPct:        b.Equity.WeeklyPnLPct(),
		CurrentPositionPct:  currentPositionPct,
		ProposedPositionPct: proposedPositionPct,
		Leverage:            leverage,
		ClosedViaStopLoss:   closedViaStopLoss,
		RegimeConflict:      regimeConflict,
		ContributingClaims:  contributingClaims,
		SystemLocked:        !canTrade && breakerState == circuit.StateRiskLocked,
	}

	if b.Correlation != nil {
		b.Correlation.RecordRound(contributingClaims)
		ctx.HighlyCorrelatedWitnesses = b.Correlation.HighlyCorrelatedCount()
	}
	if !canTrade && breakerState == circuit.StateCooldown {
		ctx.ConsecutiveLosses = ConsecutiveLossThresholdFromBreaker(b.Breaker)
	}

	return ctx
}

// ConsecutiveLossThresholdFromBreaker surfaces the breaker's own
// consecutive-loss count through its Stats snapshot, so the account
// survival checker sees the same number that tripped the breaker rather
// than a second, independently-maintained counter.
func ConsecutiveLossThresholdFromBreaker(b *circuit.Tracker) int {
	stats := b.Stats()
	if n, ok := stats["consecutive_losses"].(int); ok {
		return n
	}
	return 0
}
