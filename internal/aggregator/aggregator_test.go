package aggregator

import (
	"testing"
	"time"

	"tradingcore/internal/weight"
	"tradingcore/internal/witness"
)

type fakeWeightProvider struct {
	weights map[string]weight.Weight
}

func (f *fakeWeightProvider) GetWeight(id string) (weight.Weight, error) {
	return f.weights[id], nil
}

func claim(id string, ct witness.ClaimType, dir witness.Direction, conf float64) ClaimWithTier {
	return ClaimWithTier{
		Claim: witness.Claim{
			WitnessID:      id,
			ClaimType:      ct,
			Direction:      dir,
			Confidence:     conf,
			ValidityWindow: time.Minute,
			Timestamp:      time.Now(),
		},
	}
}

// Scenario 1: veto short-circuit.
func TestResolveVetoShortCircuit(t *testing.T) {
	t1 := claim("t1-core", witness.ClaimMarketEligible, witness.DirectionLong, 0.9)
	t1.Tier = witness.TierT1
	t2 := claim("t2-aux", witness.ClaimRegimeMatched, witness.DirectionLong, 0.8)
	t2.Tier = witness.TierT2
	t3 := claim("t3-veto", witness.ClaimExecutionVeto, witness.DirectionNone, 1.0)
	t3.Tier = witness.TierT3

	a := New(DefaultConfig(), nil, nil)
	result := a.Resolve([]ClaimWithTier{t1, t2, t3}, time.Now())

	if result.IsTradeable {
		t.Errorf("IsTradeable = true, want false when a T3 veto is present")
	}
	if result.VetoWitnessID != "t3-veto" {
		t.Errorf("VetoWitnessID = %q, want t3-veto", result.VetoWitnessID)
	}
}

// Scenario 2: weighted agreement.
func TestResolveWeightedAgreement(t *testing.T) {
	t1 := claim("t1-core", witness.ClaimMarketEligible, witness.DirectionLong, 0.7)
	t1.Tier = witness.TierT1
	t2 := claim("t2-aux", witness.ClaimRegimeMatched, witness.DirectionLong, 0.5)
	t2.Tier = witness.TierT2

	wp := &fakeWeightProvider{weights: map[string]weight.Weight{
		"t2-aux": {BaseWeight: 1.0, HealthFactor: 1.0, LearningFactor: 1.0},
	}}

	cfg := DefaultConfig()
	a := New(cfg, wp, nil)
	result := a.Resolve([]ClaimWithTier{t1, t2}, time.Now())

	want := 0.7 + 0.5*1.0*0.1
	if diff := result.TotalConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalConfidence = %f, want %f", result.TotalConfidence, want)
	}
	if !result.IsTradeable {
		t.Errorf("IsTradeable = false, want true (total %f >= threshold %f)", result.TotalConfidence, cfg.ConfidenceThreshold)
	}
}

// Scenario 3: asymmetric opposition.
func TestResolveAsymmetricOpposition(t *testing.T) {
	t1 := claim("t1-core", witness.ClaimMarketEligible, witness.DirectionLong, 0.7)
	t1.Tier = witness.TierT1
	t2 := claim("t2-aux", witness.ClaimRegimeConflict, witness.DirectionShort, 0.6)
	t2.Tier = witness.TierT2

	wp := &fakeWeightProvider{weights: map[string]weight.Weight{
		"t2-aux": {BaseWeight: 1.0, HealthFactor: 1.0, LearningFactor: 1.0},
	}}

	a := New(DefaultConfig(), wp, nil)
	result := a.Resolve([]ClaimWithTier{t1, t2}, time.Now())

	want := 0.7 - 0.6*1.0*0.1*0.5
	if diff := result.TotalConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalConfidence = %f, want %f", result.TotalConfidence, want)
	}
	if !result.IsTradeable {
		t.Errorf("IsTradeable = false, want true (still tradeable long)")
	}
	if result.DominantDirection != witness.DirectionLong {
		t.Errorf("DominantDirection = %s, want long", result.DominantDirection)
	}
}

func TestResolveEqualConfidenceOppositeDirectionIsRegimeUnclear(t *testing.T) {
	t1a := claim("t1-a", witness.ClaimMarketEligible, witness.DirectionLong, 0.7)
	t1a.Tier = witness.TierT1
	t1b := claim("t1-b", witness.ClaimMarketEligible, witness.DirectionShort, 0.7)
	t1b.Tier = witness.TierT1

	a := New(DefaultConfig(), nil, nil)
	result := a.Resolve([]ClaimWithTier{t1a, t1b}, time.Now())

	if result.IsTradeable {
		t.Errorf("IsTradeable = true, want false for equal-confidence opposite-direction T1 claims")
	}
	if result.ResolutionReason != "REGIME_UNCLEAR" {
		t.Errorf("ResolutionReason = %q, want REGIME_UNCLEAR", result.ResolutionReason)
	}
}

func TestResolveDropsExpiredClaims(t *testing.T) {
	expired := ClaimWithTier{
		Tier: witness.TierT1,
		Claim: witness.Claim{
			WitnessID:      "stale",
			ClaimType:      witness.ClaimMarketEligible,
			Direction:      witness.DirectionLong,
			Confidence:     0.99,
			ValidityWindow: time.Second,
			Timestamp:      time.Now().Add(-time.Minute),
		},
	}

	a := New(DefaultConfig(), nil, nil)
	result := a.Resolve([]ClaimWithTier{expired}, time.Now())

	if result.IsTradeable {
		t.Errorf("IsTradeable = true, want false when the only claim is expired")
	}
}

func TestResolveClampsTotalConfidenceCeiling(t *testing.T) {
	t1 := claim("t1-core", witness.ClaimMarketEligible, witness.DirectionLong, 0.99)
	t1.Tier = witness.TierT1

	var supporters []ClaimWithTier
	supporters = append(supporters, t1)
	wp := &fakeWeightProvider{weights: map[string]weight.Weight{}}
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		c := claim(id, witness.ClaimRegimeMatched, witness.DirectionLong, 0.99)
		c.Tier = witness.TierT2
		supporters = append(supporters, c)
		wp.weights[id] = weight.Weight{BaseWeight: 2.0, HealthFactor: 1.2, LearningFactor: 1.2}
	}

	a := New(DefaultConfig(), wp, nil)
	result := a.Resolve(supporters, time.Now())

	if result.TotalConfidence > 0.95 {
		t.Errorf("TotalConfidence = %f, must never exceed the 0.95 ceiling", result.TotalConfidence)
	}
}
