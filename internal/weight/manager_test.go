package weight

import (
	"testing"

	"tradingcore/internal/witness"
)

type fakeHealthProvider struct {
	grades map[string]witness.Health
}

func (f *fakeHealthProvider) Health(id string) (witness.Health, error) {
	return f.grades[id], nil
}

func TestGetWeightPullsHealthFactorFresh(t *testing.T) {
	hp := &fakeHealthProvider{grades: map[string]witness.Health{"w1": {Grade: witness.GradeA}}}
	m := NewManager(hp, nil)
	m.Register("w1")

	w, err := m.GetWeight("w1")
	if err != nil {
		t.Fatalf("GetWeight() error = %v", err)
	}
	if w.HealthFactor != 1.2 {
		t.Errorf("HealthFactor = %f, want 1.2 for grade A", w.HealthFactor)
	}

	hp.grades["w1"] = witness.Health{Grade: witness.GradeC}
	w2, err := m.GetWeight("w1")
	if err != nil {
		t.Fatalf("GetWeight() error = %v", err)
	}
	if w2.HealthFactor != 0.7 {
		t.Errorf("HealthFactor = %f, want 0.7 after grade dropped to C without any setter call", w2.HealthFactor)
	}
}

func TestEffectiveWeightWithinInvariantBounds(t *testing.T) {
	hp := &fakeHealthProvider{grades: map[string]witness.Health{"w1": {Grade: witness.GradeD}}}
	m := NewManager(hp, nil)
	m.Register("w1")
	if err := m.SetBaseWeight("w1", 0.5); err != nil {
		t.Fatalf("SetBaseWeight() error = %v", err)
	}
	if err := m.SetLearningFactor("w1", 0.8); err != nil {
		t.Fatalf("SetLearningFactor() error = %v", err)
	}

	w, _ := m.GetWeight("w1")
	eff := w.Effective()
	if eff < 0.2 || eff > 2.88 {
		t.Errorf("Effective() = %f, want within [0.2, 2.88]", eff)
	}
	if eff != w.BaseWeight*w.HealthFactor*w.LearningFactor {
		t.Errorf("Effective() does not equal base*health*learning to machine precision")
	}
}

func TestSetBaseWeightClamps(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("w1")

	if err := m.SetBaseWeight("w1", 10.0); err != nil {
		t.Fatalf("SetBaseWeight() error = %v", err)
	}
	w, _ := m.GetWeight("w1")
	if w.BaseWeight != BaseWeightMax {
		t.Errorf("BaseWeight = %f, want clamped to %f", w.BaseWeight, BaseWeightMax)
	}

	if err := m.SetBaseWeight("w1", -5.0); err != nil {
		t.Fatalf("SetBaseWeight() error = %v", err)
	}
	w2, _ := m.GetWeight("w1")
	if w2.BaseWeight != BaseWeightMin {
		t.Errorf("BaseWeight = %f, want clamped to %f", w2.BaseWeight, BaseWeightMin)
	}
}

func TestSetLearningFactorCumulativeDailyDrift(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("w1")
	// Starting learning factor is 1.0. Budget is +/-0.05 per day, cumulative.

	if err := m.SetLearningFactor("w1", 1.03); err != nil {
		t.Fatalf("SetLearningFactor() error = %v", err)
	}
	w, _ := m.GetWeight("w1")
	if w.LearningFactor != 1.03 {
		t.Errorf("LearningFactor = %f, want 1.03 (within budget)", w.LearningFactor)
	}

	// A further +0.04 would bring cumulative drift to 0.07, past the 0.05
	// budget; it must be clamped to whatever remains (0.02), landing at 1.05.
	if err := m.SetLearningFactor("w1", 1.07); err != nil {
		t.Fatalf("SetLearningFactor() error = %v", err)
	}
	w2, _ := m.GetWeight("w1")
	if w2.LearningFactor != 1.05 {
		t.Errorf("LearningFactor = %f, want 1.05 (budget exhausted, clamped to remaining drift)", w2.LearningFactor)
	}

	// Budget is now fully used; any further increase is rejected to 1.05.
	if err := m.SetLearningFactor("w1", 1.2); err != nil {
		t.Fatalf("SetLearningFactor() error = %v", err)
	}
	w3, _ := m.GetWeight("w1")
	if w3.LearningFactor != 1.05 {
		t.Errorf("LearningFactor = %f, want 1.05 (no remaining daily drift budget)", w3.LearningFactor)
	}
}

func TestSetLearningFactorClampsToRange(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("w1")
	if err := m.SetLearningFactor("w1", 5.0); err != nil {
		t.Fatalf("SetLearningFactor() error = %v", err)
	}
	w, _ := m.GetWeight("w1")
	if w.LearningFactor > LearningFactorMax {
		t.Errorf("LearningFactor = %f, must never exceed %f even before the drift budget check", w.LearningFactor, LearningFactorMax)
	}
}
