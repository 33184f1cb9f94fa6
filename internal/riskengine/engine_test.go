package riskengine

import (
	"testing"

	"tradingcore/internal/witness"
)

func baseContext() RiskContext {
	return RiskContext{
		SubjectID:           "user-1",
		Equity:              10000,
		Drawdown:            0.01,
		DailyPnLPct:         0,
		WeeklyPnLPct:        0,
		ConsecutiveLosses:   0,
		CurrentPositionPct:  0.01,
		ProposedPositionPct: 0.01,
		Leverage:            1,
	}
}

func TestEvaluateApprovesHealthyContext(t *testing.T) {
	e := New(DefaultConfig(), nil)
	result := e.Evaluate(baseContext())

	if !result.Approved {
		t.Fatalf("Approved = false, want true: %+v", result)
	}
	if result.Level != SeverityNormal {
		t.Errorf("Level = %s, want NORMAL", result.Level)
	}
	if len(result.Domains) != len(allCheckers) {
		t.Errorf("Domains has %d entries, want %d (all checkers always run)", len(result.Domains), len(allCheckers))
	}
}

func TestEvaluateAggregatesByMaxSeverity(t *testing.T) {
	ctx := baseContext()
	ctx.RegimeConflict = true                 // WARNING
	ctx.ConsecutiveLosses = DefaultConfig().ConsecutiveLossThreshold // COOLDOWN

	e := New(DefaultConfig(), nil)
	result := e.Evaluate(ctx)

	if result.Level != SeverityCooldown {
		t.Errorf("Level = %s, want COOLDOWN (max of WARNING and COOLDOWN)", result.Level)
	}
	if result.Approved {
		t.Errorf("Approved = true, want false at COOLDOWN")
	}

	// Both contributing domains must still be present in the verdict even
	// though only the higher one determines the overall level.
	if result.Domains[DomainRegime].Level != SeverityWarning {
		t.Errorf("regime domain level = %s, want WARNING", result.Domains[DomainRegime].Level)
	}
	if result.Domains[DomainAccountSurvival].Level != SeverityCooldown {
		t.Errorf("account_survival domain level = %s, want COOLDOWN", result.Domains[DomainAccountSurvival].Level)
	}
}

func TestEvaluateAllCheckersAlwaysRun(t *testing.T) {
	ctx := baseContext()
	ctx.Drawdown = DefaultConfig().MaxDrawdown // trips account_survival to RISK_LOCKED

	e := New(DefaultConfig(), nil)
	result := e.Evaluate(ctx)

	for _, d := range []Domain{DomainAccountSurvival, DomainExecutionIntegrity, DomainRegime, DomainBehavior, DomainSystem} {
		if _, ok := result.Domains[d]; !ok {
			t.Errorf("domain %s missing from verdict; every checker must run regardless of earlier failures", d)
		}
	}
}

func TestAccountSurvivalDrawdownLocksAccount(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.Drawdown = cfg.MaxDrawdown

	result := accountSurvivalCheck(ctx, cfg)
	if result.Level != SeverityRiskLocked {
		t.Errorf("Level = %s, want RISK_LOCKED at max drawdown", result.Level)
	}
}

func TestAccountSurvivalConsecutiveLossesCooldownOnly(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.ConsecutiveLosses = cfg.ConsecutiveLossThreshold

	result := accountSurvivalCheck(ctx, cfg)
	if result.Level != SeverityCooldown {
		t.Errorf("Level = %s, want COOLDOWN for consecutive losses alone", result.Level)
	}
}

func TestExecutionIntegrityLeverageLocksAccount(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.Leverage = cfg.MaxLeverage + 1

	result := executionIntegrityCheck(ctx, cfg)
	if result.Level != SeverityRiskLocked {
		t.Errorf("Level = %s, want RISK_LOCKED over max leverage", result.Level)
	}
}

func TestExecutionIntegrityOversizedPositionIsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.ProposedPositionPct = cfg.MaxSinglePositionPct + 0.01

	result := executionIntegrityCheck(ctx, cfg)
	if result.Level != SeverityCooldown {
		t.Errorf("Level = %s, want COOLDOWN for an oversized single position", result.Level)
	}
}

func TestRegimeConflictIsWarningOnly(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.RegimeConflict = true

	result := regimeCheck(ctx, cfg)
	if result.Level != SeverityWarning {
		t.Errorf("Level = %s, want WARNING", result.Level)
	}
}

func TestBehaviorCheckNeverExceedsWarning(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.HighlyCorrelatedWitnesses = 99

	result := behaviorCheck(ctx, cfg)
	if result.Level != SeverityWarning {
		t.Errorf("Level = %s, want WARNING regardless of how many witnesses are correlated", result.Level)
	}
}

func TestBehaviorCheckBelowThresholdIsNormal(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.HighlyCorrelatedWitnesses = MaxCorrelatedWitnesses

	result := behaviorCheck(ctx, cfg)
	if result.Level != SeverityNormal {
		t.Errorf("Level = %s, want NORMAL at or below the threshold", result.Level)
	}
}

func TestSystemCheckReflectsExistingLock(t *testing.T) {
	cfg := DefaultConfig()
	ctx := baseContext()
	ctx.SystemLocked = true

	result := systemCheck(ctx, cfg)
	if result.Level != SeverityRiskLocked {
		t.Errorf("Level = %s, want RISK_LOCKED", result.Level)
	}
}

func TestCooldownDurationSelection(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg, nil)

	stopLoss := baseContext()
	stopLoss.ClosedViaStopLoss = true
	if got := e.cooldownDuration(stopLoss, SeverityCooldown); got != cfg.StopLossCooldown {
		t.Errorf("stop-loss cooldown = %s, want %s", got, cfg.StopLossCooldown)
	}

	consecutive := baseContext()
	consecutive.ConsecutiveLosses = cfg.ConsecutiveLossThreshold
	if got := e.cooldownDuration(consecutive, SeverityCooldown); got != cfg.ConsecutiveLossCooldown {
		t.Errorf("consecutive-loss cooldown = %s, want %s", got, cfg.ConsecutiveLossCooldown)
	}

	normal := baseContext()
	if got := e.cooldownDuration(normal, SeverityCooldown); got != cfg.NormalCooldown {
		t.Errorf("normal cooldown = %s, want %s", got, cfg.NormalCooldown)
	}

	belowCooldown := baseContext()
	if got := e.cooldownDuration(belowCooldown, SeverityWarning); got != 0 {
		t.Errorf("cooldown below COOLDOWN severity = %s, want 0", got)
	}
}

func TestCorrelationTrackerFlagsHighlyCorrelatedPair(t *testing.T) {
	ct := NewCorrelationTracker()
	for i := 0; i < 10; i++ {
		ct.RecordRound(map[string]witness.Direction{
			"a": witness.DirectionLong,
			"b": witness.DirectionLong,
			"c": witness.DirectionShort,
		})
	}

	if got := ct.HighlyCorrelatedCount(); got < 2 {
		t.Errorf("HighlyCorrelatedCount() = %d, want >= 2 for a perfectly co-moving pair", got)
	}
}

func TestCorrelationTrackerIgnoresNonContributingRounds(t *testing.T) {
	ct := NewCorrelationTracker()
	ct.RecordRound(map[string]witness.Direction{"a": witness.DirectionLong})
	ct.RecordRound(map[string]witness.Direction{"b": witness.DirectionShort})

	if got := ct.HighlyCorrelatedCount(); got != 0 {
		t.Errorf("HighlyCorrelatedCount() = %d, want 0 when witnesses never co-occur", got)
	}
}
