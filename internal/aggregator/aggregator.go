// Package aggregator resolves a set of witness claims into a single
// tradeable decision (spec §4.3).
package aggregator

import (
	"sort"
	"time"

	"tradingcore/internal/events"
	"tradingcore/internal/weight"
	"tradingcore/internal/witness"
)

// TradeRegime is the aggregator's advisory market-mode output (spec §3,
// §4.5), derived from the dominant T1 claim's type.
type TradeRegime string

const (
	RegimeVolatilityExpansion TradeRegime = "VOLATILITY_EXPANSION"
	RegimeRangeStructureBreak TradeRegime = "RANGE_STRUCTURE_BREAK"
	RegimeLiquiditySweep      TradeRegime = "LIQUIDITY_SWEEP"
	RegimeNone                TradeRegime = "NO_REGIME"
)

// AggregatedResult is produced once per decision loop.
type AggregatedResult struct {
	DominantDirection witness.Direction
	TotalConfidence   float64
	IsTradeable       bool
	VetoWitnessID     string
	ResolutionReason  string
	Regime            TradeRegime
	HighTradingWindow bool
}

// ClaimWithTier pairs a claim with the tier of the witness that emitted
// it; the aggregator needs tier to find T1 dominance and T3 vetoes, but
// claims themselves don't carry tier (tier belongs to the witness, not
// the assertion).
type ClaimWithTier struct {
	Claim witness.Claim
	Tier  witness.Tier
}

// Config holds the aggregator's tunable constants (spec §4.3, §6).
type Config struct {
	Tier2BaseFactor     float64
	ConfidenceThreshold float64
	RegimeUnclearBand   float64
	ConfidenceCeiling   float64
}

// DefaultConfig matches spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Tier2BaseFactor:     0.1,
		ConfidenceThreshold: 0.6,
		RegimeUnclearBand:   0.1,
		ConfidenceCeiling:   0.95,
	}
}

// WeightProvider supplies the effective weight the aggregator applies to
// non-dominant claims.
type WeightProvider interface {
	GetWeight(witnessID string) (weight.Weight, error)
}

// Aggregator resolves claim sets into decisions.
type Aggregator struct {
	config  Config
	weights WeightProvider
	bus     *events.EventBus
}

// New creates an Aggregator.
func New(config Config, weights WeightProvider, bus *events.EventBus) *Aggregator {
	return &Aggregator{config: config, weights: weights, bus: bus}
}

// Resolve runs the 8-step algorithm from spec §4.3 against claims,
// evaluated as of now.
func (a *Aggregator) Resolve(claims []ClaimWithTier, now time.Time) AggregatedResult {
	// Step 1: drop expired claims, uniformly, regardless of tier or status.
	live := make([]ClaimWithTier, 0, len(claims))
	for _, c := range claims {
		if !c.Claim.Expired(now) {
			live = append(live, c)
		}
	}

	// Step 2: any T3 claim vetoes outright.
	for _, c := range live {
		if c.Tier == witness.TierT3 {
			result := AggregatedResult{
				IsTradeable:      false,
				VetoWitnessID:    c.Claim.WitnessID,
				ResolutionReason: "EXECUTION_VETO",
				Regime:           RegimeNone,
			}
			a.publish(result)
			return result
		}
	}

	// Step 3: dominant T1 claim by highest confidence, ties broken by
	// witness id lexicographically.
	var t1Directional []ClaimWithTier
	for _, c := range live {
		if c.Tier == witness.TierT1 && (c.Claim.Direction == witness.DirectionLong || c.Claim.Direction == witness.DirectionShort) {
			t1Directional = append(t1Directional, c)
		}
	}

	if len(t1Directional) == 0 {
		result := AggregatedResult{
			IsTradeable:      false,
			ResolutionReason: "NO_T1_DIRECTIONAL_CLAIM",
			Regime:           RegimeNone,
		}
		a.publish(result)
		return result
	}

	sort.Slice(t1Directional, func(i, j int) bool {
		ci, cj := t1Directional[i].Claim, t1Directional[j].Claim
		if ci.Confidence != cj.Confidence {
			return ci.Confidence > cj.Confidence
		}
		return ci.WitnessID < cj.WitnessID
	})
	dominant := t1Directional[0]

	// Step 4: opposite-direction T1 claims within the regime-unclear band,
	// both MARKET_ELIGIBLE, refuse. The band check is inclusive at 0%, so
	// equal-confidence opposite-direction claims always land here.
	for _, c := range t1Directional[1:] {
		if c.Claim.Direction == dominant.Claim.Direction {
			continue
		}
		if c.Claim.ClaimType != witness.ClaimMarketEligible || dominant.Claim.ClaimType != witness.ClaimMarketEligible {
			continue
		}
		if withinBand(dominant.Claim.Confidence, c.Claim.Confidence, a.config.RegimeUnclearBand) {
			result := AggregatedResult{
				IsTradeable:      false,
				ResolutionReason: "REGIME_UNCLEAR",
				Regime:           RegimeNone,
			}
			a.publish(result)
			return result
		}
	}

	// Step 5: start total at dominant's confidence.
	total := dominant.Claim.Confidence
	contributing := []ClaimWithTier{dominant}

	// Step 6: fold in every remaining non-veto claim.
	for _, c := range live {
		if c.Claim.WitnessID == dominant.Claim.WitnessID && c.Tier == witness.TierT1 {
			continue
		}
		if c.Tier == witness.TierT3 {
			continue
		}
		if c.Claim.Direction == witness.DirectionNone {
			continue
		}

		var effectiveWeight float64 = 1.0
		if a.weights != nil {
			if w, err := a.weights.GetWeight(c.Claim.WitnessID); err == nil {
				effectiveWeight = w.Effective()
			}
		}
		factor := effectiveWeight * a.config.Tier2BaseFactor

		if c.Claim.Direction == dominant.Claim.Direction {
			total += c.Claim.Confidence * factor
			contributing = append(contributing, c)
		} else {
			total -= c.Claim.Confidence * factor * 0.5
			contributing = append(contributing, c)
		}
	}

	// Step 7: clamp to [0, 0.95] (or the configured ceiling).
	ceiling := a.config.ConfidenceCeiling
	if ceiling <= 0 {
		ceiling = 0.95
	}
	if total < 0 {
		total = 0
	}
	if total > ceiling {
		total = ceiling
	}

	// Step 8: tradeability.
	isTradeable := total >= a.config.ConfidenceThreshold

	result := AggregatedResult{
		DominantDirection: dominant.Claim.Direction,
		TotalConfidence:   total,
		IsTradeable:        isTradeable,
		ResolutionReason:   resolutionReason(isTradeable),
		Regime:             regimeFromClaimType(dominant.Claim.ClaimType),
		HighTradingWindow:  a.highTradingWindow(contributing, dominant),
	}
	a.publish(result)
	return result
}

func resolutionReason(isTradeable bool) string {
	if isTradeable {
		return "THRESHOLD_MET"
	}
	return "BELOW_CONFIDENCE_THRESHOLD"
}

func regimeFromClaimType(ct witness.ClaimType) TradeRegime {
	switch ct {
	case witness.ClaimRegimeMatched:
		return RegimeRangeStructureBreak
	case witness.ClaimMarketEligible:
		return RegimeVolatilityExpansion
	default:
		return RegimeNone
	}
}

// withinBand reports whether two confidences are within the given
// fractional band of each other, inclusive of exact equality.
func withinBand(a, b, band float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	larger := a
	if b > larger {
		larger = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= larger*band
}

// highTradingWindow implements the supplemental "high trading window"
// flag (spec §4.3): at least MIN_WITNESSES=2 non-expired contributing
// claims, a majority T1, and no contributing T2 opposing the dominant
// direction.
const minWitnessesForHighWindow = 2

func (a *Aggregator) highTradingWindow(contributing []ClaimWithTier, dominant ClaimWithTier) bool {
	if len(contributing) < minWitnessesForHighWindow {
		return false
	}

	t1Count := 0
	for _, c := range contributing {
		if c.Tier == witness.TierT1 {
			t1Count++
		}
		if c.Tier == witness.TierT2 && c.Claim.Direction != witness.DirectionNone && c.Claim.Direction != dominant.Claim.Direction {
			return false
		}
	}

	return t1Count*2 > len(contributing)
}

func (a *Aggregator) publish(result AggregatedResult) {
	if a.bus == nil {
		return
	}
	a.bus.PublishAggregationResolved(string(result.DominantDirection), result.TotalConfidence, result.IsTradeable, result.ResolutionReason)
}
