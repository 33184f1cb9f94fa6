package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tradingcore/internal/database"
	"tradingcore/internal/events"
	"tradingcore/internal/logging"
	"tradingcore/internal/witness"
)

// ShadowRunner invokes SHADOW-status witnesses against the same bar data
// the live panel sees, records each hypothetical claim alongside the
// contemporaneous market price, and never lets that output reach the
// aggregator (spec §4.7). It relies on witness.Panel.GenerateClaims to do
// the actual per-witness isolation and status filtering; this package only
// owns what happens to the shadow half of that call's return value.
type ShadowRunner struct {
	panel *witness.Panel
	repo  *database.Repository
	bus   *events.EventBus
	log   *logging.Logger
}

// NewShadowRunner creates a runner over an existing panel.
func NewShadowRunner(panel *witness.Panel, repo *database.Repository, bus *events.EventBus) *ShadowRunner {
	return &ShadowRunner{
		panel: panel,
		repo:  repo,
		bus:   bus,
		log:   logging.WithComponent("shadow-runner"),
	}
}

// RunBar generates claims for one bar slice and records the shadow half.
// marketPrice is the close of the most recent bar, recorded alongside each
// hypothetical claim so the promotion check can later compute what that
// claim would have earned. live claims are discarded by design — shadow
// output never reaches a caller that could route it to the aggregator.
func (s *ShadowRunner) RunBar(ctx context.Context, symbol string, bars []witness.Bar, marketPrice float64) {
	_, shadow := s.panel.GenerateClaims(bars)

	for _, claim := range shadow {
		// SHADOW claims are subject to the same validity-window check as
		// live claims (resolved open question: always check, never skip
		// expiry just because the output is hypothetical).
		if claim.Expired(time.Now()) {
			continue
		}
		s.record(ctx, symbol, claim, marketPrice)
	}
}

func (s *ShadowRunner) record(ctx context.Context, symbol string, claim witness.Claim, marketPrice float64) {
	if s.bus != nil {
		s.bus.PublishShadowClaimRecorded(claim.WitnessID, string(claim.Direction), claim.Confidence, marketPrice)
	}

	if s.repo == nil {
		return
	}

	tier, err := s.panel.Tier(claim.WitnessID)
	if err != nil {
		tier = witness.TierT2
	}

	record := &database.ClaimRecord{
		ID:         uuid.NewString(),
		WitnessID:  claim.WitnessID,
		ClaimType:  string(claim.ClaimType),
		Direction:  string(claim.Direction),
		Confidence: claim.Confidence,
		Symbol:     symbol,
		Tier:       int(tier),
		ValidUntil: claim.Timestamp.Add(claim.ValidityWindow),
		Metadata: map[string]interface{}{
			"shadow":       true,
			"market_price": marketPrice,
		},
	}
	if err := s.repo.CreateClaim(ctx, record); err != nil {
		s.log.WithField("witness_id", claim.WitnessID).WithError(err).Warn("failed to persist shadow claim")
	}
}

// PerformanceSince computes the shadow strategy's rolling win rate and
// sample count from its persisted claim history, for use by
// Manager.RecordValidationResult. direction-matching-outcome P&L
// attribution is delegated to the caller via outcomeFn, since whether a
// hypothetical claim "won" depends on market data this package does not
// hold.
func PerformanceSince(claims []*database.ClaimRecord, outcomeFn func(c *database.ClaimRecord) (won bool, ok bool)) (winRate float64, sampleCount int) {
	var wins, total int
	for _, c := range claims {
		won, ok := outcomeFn(c)
		if !ok {
			continue
		}
		total++
		if won {
			wins++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(wins) / float64(total), total
}
