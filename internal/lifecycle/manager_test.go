package lifecycle

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/witness"
)

type fakeWitness struct {
	id string
}

func (f *fakeWitness) ID() string { return f.id }
func (f *fakeWitness) GenerateClaim(bars []witness.Bar) (*witness.Claim, error) {
	return nil, nil
}

func TestRegisterHypothesisStartsAtTesting(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)

	w := &fakeWitness{id: "w1"}
	if err := mgr.RegisterHypothesis(w, witness.TierT2); err != nil {
		t.Fatalf("RegisterHypothesis() = %v, want nil", err)
	}

	status, err := panel.Status("w1")
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if status != witness.StatusTesting {
		t.Errorf("status = %s, want TESTING immediately after hypothesis creation", status)
	}
}

func TestRegisterHypothesisRejectsT3(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)

	err := mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT3)
	if err == nil {
		t.Fatalf("RegisterHypothesis() at T3 = nil, want an error; T3 bypasses this subsystem")
	}
}

func TestRecordValidationResultPromotesToShadow(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)
	_ = mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT2)

	if err := mgr.RecordValidationResult("w1", ShadowPromotionMinWinRate, ShadowPromotionMinSampleCount); err != nil {
		t.Fatalf("RecordValidationResult() = %v", err)
	}

	status, _ := panel.Status("w1")
	if status != witness.StatusShadow {
		t.Errorf("status = %s, want SHADOW once win rate and sample thresholds are met", status)
	}
}

func TestRecordValidationResultBelowThresholdStaysInTesting(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)
	_ = mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT2)

	_ = mgr.RecordValidationResult("w1", ShadowPromotionMinWinRate-0.05, ShadowPromotionMinSampleCount)

	status, _ := panel.Status("w1")
	if status != witness.StatusTesting {
		t.Errorf("status = %s, want TESTING to remain unchanged below threshold", status)
	}
}

func TestPromoteToT1RequiresGradeAStreak(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)
	_ = mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT2)

	now := time.Now()
	_ = panel.SetHealth("w1", witness.Health{Grade: witness.GradeA, WinRate: 0.7, SampleCount: 200})
	mgr.Tick(context.Background(), now)

	if err := mgr.PromoteToT1("w1", now.Add(time.Hour)); err == nil {
		t.Fatalf("PromoteToT1() = nil after only an hour at grade A, want an error")
	}

	if err := mgr.PromoteToT1("w1", now.AddDate(0, 0, T1PromotionMinDaysAtGradeA+1)); err != nil {
		t.Fatalf("PromoteToT1() = %v after %d days at grade A, want nil", err, T1PromotionMinDaysAtGradeA+1)
	}
}

func TestTickDegradesOnGradeDAndRecovers(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)
	_ = mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT2)
	_ = mgr.PromoteToActive("w1")

	now := time.Now()
	_ = panel.SetHealth("w1", witness.Health{Grade: witness.GradeD, WinRate: 0.2, SampleCount: 200})
	mgr.Tick(context.Background(), now)

	status, _ := panel.Status("w1")
	if status != witness.StatusDegraded {
		t.Fatalf("status = %s, want DEGRADED after grade D", status)
	}

	_ = panel.SetHealth("w1", witness.Health{Grade: witness.GradeB, WinRate: 0.55, SampleCount: 200})
	mgr.Tick(context.Background(), now.Add(time.Hour))

	status, _ = panel.Status("w1")
	if status != witness.StatusActive {
		t.Errorf("status = %s, want ACTIVE after recovering to grade B", status)
	}
}

func TestTickRetiresAfterThirtyDaysDegraded(t *testing.T) {
	panel := witness.NewPanel(nil)
	mgr := NewManager(panel, nil, nil)
	_ = mgr.RegisterHypothesis(&fakeWitness{id: "w1"}, witness.TierT2)
	_ = mgr.PromoteToActive("w1")

	now := time.Now()
	_ = panel.SetHealth("w1", witness.Health{Grade: witness.GradeD, WinRate: 0.1, SampleCount: 200})
	mgr.Tick(context.Background(), now)

	mgr.Tick(context.Background(), now.AddDate(0, 0, DegradedRetirementDays+1))

	status, _ := panel.Status("w1")
	if status != witness.StatusRetired {
		t.Errorf("status = %s, want RETIRED after %d days degraded without recovery", status, DegradedRetirementDays)
	}
}
