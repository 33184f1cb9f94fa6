// Package lifecycle moves a witness through NEW→TESTING→SHADOW→ACTIVE→
// (DEGRADED↔ACTIVE)→RETIRED and owns its tier promotion from T2 to T1
// (spec §4.7). T3 witnesses never enter this subsystem.
package lifecycle

import (
	"time"

	"tradingcore/internal/witness"
)

// Thresholds are the operator-owned constants spec §4.7 names directly.
const (
	ShadowPromotionMinWinRate     = 0.51
	ShadowPromotionMinSampleCount = 100
	DegradedRetirementDays        = 30
	T1PromotionMinDaysAtGradeA    = 30
)

// tracking is the per-witness bookkeeping the automatic transitions are
// computed from. It lives entirely in this package; the witness panel
// itself has no notion of lifecycle history.
type tracking struct {
	validationWinRate     float64
	validationSampleCount int

	degradedSince      *time.Time
	gradeAStreakStart  *time.Time
}

func newTracking() *tracking {
	return &tracking{}
}

// recordGrade folds a fresh health grade into the grade-A streak used by
// the T2->T1 promotion rule. It does not touch the degraded-since clock used
// by the DEGRADED->RETIRED rule; the manager sets and clears that clock on
// DEGRADED transitions.
func (t *tracking) recordGrade(grade witness.Grade, now time.Time) {
	if grade == witness.GradeA {
		if t.gradeAStreakStart == nil {
			start := now
			t.gradeAStreakStart = &start
		}
	} else {
		t.gradeAStreakStart = nil
	}
}

func (t *tracking) daysAtGradeA(now time.Time) float64 {
	if t.gradeAStreakStart == nil {
		return 0
	}
	return now.Sub(*t.gradeAStreakStart).Hours() / 24
}

func (t *tracking) daysDegraded(now time.Time) float64 {
	if t.degradedSince == nil {
		return 0
	}
	return now.Sub(*t.degradedSince).Hours() / 24
}
