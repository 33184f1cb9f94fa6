// Package riskengine composes five domain risk checkers into a single
// approve/deny verdict (spec §4.4). Every invocation runs all five
// checkers and aggregates by max severity — a deliberate redesign from
// the short-circuit-on-first-failure pattern this port replaces (see
// DESIGN.md).
package riskengine

import (
	"time"

	"tradingcore/internal/witness"
)

// Severity is the unified risk level. Order matters: the engine
// aggregates by taking the highest-ranked severity across all checkers.
type Severity string

const (
	SeverityNormal     Severity = "NORMAL"
	SeverityWarning    Severity = "WARNING"
	SeverityCooldown   Severity = "COOLDOWN"
	SeverityRiskLocked Severity = "RISK_LOCKED"
)

var severityRank = map[Severity]int{
	SeverityNormal:     0,
	SeverityWarning:    1,
	SeverityCooldown:   2,
	SeverityRiskLocked: 3,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Domain identifies one of the five checkers.
type Domain string

const (
	DomainAccountSurvival    Domain = "account_survival"
	DomainExecutionIntegrity Domain = "execution_integrity"
	DomainRegime             Domain = "regime"
	DomainBehavior           Domain = "behavior"
	DomainSystem             Domain = "system"
)

// Config holds the operator-owned, non-learnable thresholds from spec
// §4.4. These are hard floors; nothing in this package may widen them at
// runtime.
type Config struct {
	MaxDrawdown              float64
	DailyMaxLossPct          float64
	WeeklyMaxLossPct         float64
	ConsecutiveLossThreshold int
	MaxSinglePositionPct     float64
	MaxTotalPositionPct      float64
	MaxLeverage              float64
	NormalCooldown           time.Duration
	StopLossCooldown         time.Duration
	ConsecutiveLossCooldown  time.Duration
}

// DefaultConfig matches spec §4.4's documented thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDrawdown:              0.20,
		DailyMaxLossPct:          0.03,
		WeeklyMaxLossPct:         0.10,
		ConsecutiveLossThreshold: 3,
		MaxSinglePositionPct:     0.05,
		MaxTotalPositionPct:      0.30,
		MaxLeverage:              5,
		NormalCooldown:           600 * time.Second,
		StopLossCooldown:         1200 * time.Second,
		ConsecutiveLossCooldown:  3600 * time.Second,
	}
}

// RiskContext is a read-only snapshot passed to all five checkers in one
// invocation (spec §3).
type RiskContext struct {
	SubjectID string

	Equity            float64
	Drawdown          float64
	DailyPnLPct       float64
	WeeklyPnLPct      float64
	ConsecutiveLosses int

	CurrentPositionPct  float64
	ProposedPositionPct float64
	Leverage            float64
	ClosedViaStopLoss   bool

	RegimeConflict bool

	ContributingClaims        map[string]witness.Direction
	HighlyCorrelatedWitnesses int

	SystemLocked bool
}

// DomainResult is one checker's verdict.
type DomainResult struct {
	Domain Domain
	Level  Severity
	Reason string
}

// RiskCheckResult is the engine's aggregated verdict (spec §3).
type RiskCheckResult struct {
	Approved        bool
	Level           Severity
	Reason          string
	Domains         map[Domain]DomainResult
	CooldownFor     time.Duration
}
