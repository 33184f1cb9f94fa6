package riskengine

import (
	"strings"
	"time"

	"tradingcore/internal/events"
	"tradingcore/internal/logging"
)

// Engine evaluates a RiskContext against all five domain checkers and
// aggregates their results by max severity (spec §4.4).
type Engine struct {
	config Config
	bus    *events.EventBus
	log    *logging.Logger
}

// New creates a risk engine with the given thresholds.
func New(config Config, bus *events.EventBus) *Engine {
	return &Engine{
		config: config,
		bus:    bus,
		log:    logging.WithComponent("riskengine"),
	}
}

// Evaluate runs every checker against ctx and returns a complete verdict.
// Every domain's sub-result is always populated, even when only one
// checker denies — this is the explicit max-severity redesign from
// spec §4.4/§9, replacing a short-circuit-on-first-failure predecessor.
func (e *Engine) Evaluate(ctx RiskContext) RiskCheckResult {
	domains := make(map[Domain]DomainResult, len(allCheckers))
	level := SeverityNormal
	var reasons []string

	for _, check := range allCheckers {
		result := check(ctx, e.config)
		domains[result.Domain] = result
		level = maxSeverity(level, result.Level)
		if result.Level != SeverityNormal && result.Reason != "" {
			reasons = append(reasons, string(result.Domain)+": "+result.Reason)
		}
	}

	approved := level == SeverityNormal || level == SeverityWarning

	verdict := RiskCheckResult{
		Approved: approved,
		Level:    level,
		Reason:   strings.Join(reasons, "; "),
		Domains:  domains,
	}
	verdict.CooldownFor = e.cooldownDuration(ctx, level)

	if e.bus != nil {
		e.bus.PublishRiskVerdict(approved, string(level), verdict.Reason)
	}
	e.log.WithField("subject_id", ctx.SubjectID).WithField("level", string(level)).WithField("approved", approved).Info("risk verdict")

	return verdict
}

// cooldownDuration selects which of the three configured cooldown
// durations applies, per spec §4.4: a close triggered by a stop-loss uses
// the longer stop-loss cooldown, three-or-more consecutive losses use the
// consecutive-loss cooldown, and everything else uses the normal cooldown.
// It only applies once the verdict is at COOLDOWN severity or above.
func (e *Engine) cooldownDuration(ctx RiskContext, level Severity) time.Duration {
	if severityRank[level] < severityRank[SeverityCooldown] {
		return 0
	}
	if ctx.ClosedViaStopLoss {
		return e.config.StopLossCooldown
	}
	if ctx.ConsecutiveLosses >= e.config.ConsecutiveLossThreshold {
		return e.config.ConsecutiveLossCooldown
	}
	return e.config.NormalCooldown
}
