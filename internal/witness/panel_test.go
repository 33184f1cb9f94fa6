package witness

import (
	"testing"
	"time"

	"tradingcore/internal/events"
)

type fakeWitness struct {
	id        string
	claim     *Claim
	err       error
	callCount int
}

func (f *fakeWitness) ID() string { return f.id }

func (f *fakeWitness) GenerateClaim(bars []Bar) (*Claim, error) {
	f.callCount++
	return f.claim, f.err
}

type violatingWitness struct {
	fakeWitness
}

func (v *violatingWitness) PlaceOrder(symbol string, quantity float64) error { return nil }

func TestRegisterRejectsOrderPlacer(t *testing.T) {
	p := NewPanel(events.NewEventBus())
	w := &violatingWitness{fakeWitness: fakeWitness{id: "evil"}}

	err := p.Register(w, TierT1)
	if err == nil {
		t.Fatalf("Register() should reject a witness implementing OrderPlacer")
	}
}

func TestSetTierRejectsT3Changes(t *testing.T) {
	p := NewPanel(events.NewEventBus())
	w := &fakeWitness{id: "veto-1"}
	if err := p.Register(w, TierT3); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := p.SetTier("veto-1", TierT1); err == nil {
		t.Errorf("SetTier() should reject demoting a T3 witness")
	}

	w2 := &fakeWitness{id: "core-1"}
	if err := p.Register(w2, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.SetTier("core-1", TierT3); err == nil {
		t.Errorf("SetTier() should reject promoting a witness to T3")
	}
}

func TestGenerateClaimsFiltersMutedAndInactive(t *testing.T) {
	p := NewPanel(events.NewEventBus())

	active := &fakeWitness{id: "active-1", claim: &Claim{
		WitnessID: "active-1", ClaimType: ClaimMarketEligible, Confidence: 0.8,
		Direction: DirectionLong, ValidityWindow: time.Minute, Timestamp: time.Now(),
	}}
	newWitness := &fakeWitness{id: "new-1", claim: &Claim{
		WitnessID: "new-1", ClaimType: ClaimMarketEligible, Confidence: 0.5,
		Direction: DirectionLong, ValidityWindow: time.Minute, Timestamp: time.Now(),
	}}

	if err := p.Register(active, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.Register(newWitness, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := p.SetStatus("active-1", StatusActive, "activated"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	// new-1 stays at StatusNew and should be filtered out.

	live, shadow := p.GenerateClaims(nil)
	if len(live) != 1 || live[0].WitnessID != "active-1" {
		t.Errorf("GenerateClaims() live = %+v, want only active-1's claim", live)
	}
	if len(shadow) != 0 {
		t.Errorf("GenerateClaims() shadow = %+v, want none", shadow)
	}
}

func TestGenerateClaimsRoutesShadowSeparately(t *testing.T) {
	p := NewPanel(events.NewEventBus())
	shadowWitness := &fakeWitness{id: "shadow-1", claim: &Claim{
		WitnessID: "shadow-1", ClaimType: ClaimMarketEligible, Confidence: 0.6,
		Direction: DirectionLong, ValidityWindow: time.Minute, Timestamp: time.Now(),
	}}
	if err := p.Register(shadowWitness, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.SetStatus("shadow-1", StatusShadow, "under evaluation"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	live, shadow := p.GenerateClaims(nil)
	if len(live) != 0 {
		t.Errorf("GenerateClaims() live = %+v, want none (shadow claims must never reach aggregation)", live)
	}
	if len(shadow) != 1 || shadow[0].WitnessID != "shadow-1" {
		t.Errorf("GenerateClaims() shadow = %+v, want shadow-1's claim", shadow)
	}
}

func TestGenerateClaimsIsolatesWitnessErrors(t *testing.T) {
	p := NewPanel(events.NewEventBus())
	failing := &fakeWitness{id: "failing-1", err: errNotNil()}
	ok := &fakeWitness{id: "ok-1", claim: &Claim{
		WitnessID: "ok-1", ClaimType: ClaimMarketEligible, Confidence: 0.7,
		Direction: DirectionLong, ValidityWindow: time.Minute, Timestamp: time.Now(),
	}}

	if err := p.Register(failing, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.Register(ok, TierT1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.SetStatus("failing-1", StatusActive, "activated"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if err := p.SetStatus("ok-1", StatusActive, "activated"); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	live, _ := p.GenerateClaims(nil)
	if len(live) != 1 || live[0].WitnessID != "ok-1" {
		t.Errorf("GenerateClaims() should isolate failing-1's error and still return ok-1's claim, got %+v", live)
	}
}

func errNotNil() error {
	return &claimError{"witness exploded"}
}

type claimError struct{ msg string }

func (e *claimError) Error() string { return e.msg }

func TestHealthAutoMute(t *testing.T) {
	h := Health{Grade: GradeD, SampleCount: 50}
	if !h.AutoMute() {
		t.Errorf("AutoMute() = false, want true for grade D with sample_count >= 50")
	}

	h2 := Health{Grade: GradeD, SampleCount: 49}
	if h2.AutoMute() {
		t.Errorf("AutoMute() = true, want false for sample_count below threshold")
	}

	h3 := Health{Grade: GradeC, SampleCount: 1000}
	if h3.AutoMute() {
		t.Errorf("AutoMute() = true, want false for grade above D")
	}
}

func TestWeightScalarByGrade(t *testing.T) {
	cases := map[Grade]float64{GradeA: 1.2, GradeB: 1.0, GradeC: 0.7, GradeD: 0.5}
	for grade, want := range cases {
		h := Health{Grade: grade}
		if got := h.WeightScalar(); got != want {
			t.Errorf("WeightScalar() for grade %s = %f, want %f", grade, got, want)
		}
	}
}

func TestClaimExpired(t *testing.T) {
	now := time.Now()
	c := Claim{Timestamp: now.Add(-2 * time.Minute), ValidityWindow: time.Minute}
	if !c.Expired(now) {
		t.Errorf("Expired() = false, want true")
	}

	c2 := Claim{Timestamp: now, ValidityWindow: time.Minute}
	if c2.Expired(now) {
		t.Errorf("Expired() = true, want false")
	}
}

func TestValidateTierClaimTypes(t *testing.T) {
	t3Veto := Claim{ClaimType: ClaimExecutionVeto, Confidence: 0.5}
	if err := Validate(TierT3, t3Veto); err != nil {
		t.Errorf("Validate() T3 veto should be accepted, got %v", err)
	}

	t3Bad := Claim{ClaimType: ClaimMarketEligible, Confidence: 0.5}
	if err := Validate(TierT3, t3Bad); err == nil {
		t.Errorf("Validate() should reject a T3 witness emitting MARKET_ELIGIBLE")
	}

	t1Bad := Claim{ClaimType: ClaimExecutionVeto, Confidence: 0.5}
	if err := Validate(TierT1, t1Bad); err == nil {
		t.Errorf("Validate() should reject a T1 witness emitting EXECUTION_VETO")
	}
}
