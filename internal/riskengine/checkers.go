package riskengine

import "fmt"

// checker is a pure function of (context, config); it never mutates
// shared state, matching spec §9's "capability set" redesign of the
// deep-inheritance checker hierarchy this port replaces.
type checker func(ctx RiskContext, cfg Config) DomainResult

// accountSurvivalCheck guards drawdown, daily/weekly loss, and
// consecutive-loss thresholds.
func accountSurvivalCheck(ctx RiskContext, cfg Config) DomainResult {
	d := DomainResult{Domain: DomainAccountSurvival, Level: SeverityNormal}

	switch {
	case ctx.Drawdown >= cfg.MaxDrawdown:
		d.Level = SeverityRiskLocked
		d.Reason = fmt.Sprintf("drawdown %.4f >= max %.4f", ctx.Drawdown, cfg.MaxDrawdown)
	case ctx.DailyPnLPct <= -cfg.DailyMaxLossPct:
		d.Level = SeverityRiskLocked
		d.Reason = fmt.Sprintf("daily loss %.4f exceeds max %.4f", -ctx.DailyPnLPct, cfg.DailyMaxLossPct)
	case ctx.WeeklyPnLPct <= -cfg.WeeklyMaxLossPct:
		d.Level = SeverityRiskLocked
		d.Reason = fmt.Sprintf("weekly loss %.4f exceeds max %.4f", -ctx.WeeklyPnLPct, cfg.WeeklyMaxLossPct)
	case ctx.ConsecutiveLosses >= cfg.ConsecutiveLossThreshold:
		d.Level = SeverityCooldown
		d.Reason = fmt.Sprintf("consecutive losses %d >= threshold %d", ctx.ConsecutiveLosses, cfg.ConsecutiveLossThreshold)
	}
	return d
}

// executionIntegrityCheck guards position sizing and leverage.
func executionIntegrityCheck(ctx RiskContext, cfg Config) DomainResult {
	d := DomainResult{Domain: DomainExecutionIntegrity, Level: SeverityNormal}

	switch {
	case ctx.Leverage > cfg.MaxLeverage:
		d.Level = SeverityRiskLocked
		d.Reason = fmt.Sprintf("leverage %.2f exceeds max %.2f", ctx.Leverage, cfg.MaxLeverage)
	case ctx.ProposedPositionPct > cfg.MaxSinglePositionPct:
		d.Level = SeverityCooldown
		d.Reason = fmt.Sprintf("proposed position %.4f exceeds single-position max %.4f", ctx.ProposedPositionPct, cfg.MaxSinglePositionPct)
	case ctx.CurrentPositionPct+ctx.ProposedPositionPct > cfg.MaxTotalPositionPct:
		d.Level = SeverityCooldown
		d.Reason = fmt.Sprintf("total position %.4f exceeds max %.4f", ctx.CurrentPositionPct+ctx.ProposedPositionPct, cfg.MaxTotalPositionPct)
	}
	return d
}

// regimeCheck flags conflicting T2 regime signals against the dominant
// direction as advisory, not blocking.
func regimeCheck(ctx RiskContext, cfg Config) DomainResult {
	d := DomainResult{Domain: DomainRegime, Level: SeverityNormal}
	if ctx.RegimeConflict {
		d.Level = SeverityWarning
		d.Reason = "contributing T2 claim conflicts with dominant regime"
	}
	return d
}

// behaviorCheck raises a WARNING (never higher on its own) when too many
// witnesses are highly correlated, per the supplemental witness
// correlation feature (spec §4.4).
func behaviorCheck(ctx RiskContext, cfg Config) DomainResult {
	d := DomainResult{Domain: DomainBehavior, Level: SeverityNormal}
	if ctx.HighlyCorrelatedWitnesses > MaxCorrelatedWitnesses {
		d.Level = SeverityWarning
		d.Reason = fmt.Sprintf("%d witnesses highly correlated (> %d), apparent consensus overstated", ctx.HighlyCorrelatedWitnesses, MaxCorrelatedWitnesses)
	}
	return d
}

// systemCheck reflects an already-locked system state back into the
// verdict so a stale decision can never bypass an existing lock.
func systemCheck(ctx RiskContext, cfg Config) DomainResult {
	d := DomainResult{Domain: DomainSystem, Level: SeverityNormal}
	if ctx.SystemLocked {
		d.Level = SeverityRiskLocked
		d.Reason = "system is already RISK_LOCKED"
	}
	return d
}

var allCheckers = []checker{
	accountSurvivalCheck,
	executionIntegrityCheck,
	regimeCheck,
	behaviorCheck,
	systemCheck,
}
