package witness

// Grade is a witness's current performance grade, A through D.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// weightScalarByGrade is the grade-to-scalar mapping from spec §3: grade
// alone determines the scalar, nothing else.
var weightScalarByGrade = map[Grade]float64{
	GradeA: 1.2,
	GradeB: 1.0,
	GradeC: 0.7,
	GradeD: 0.5,
}

// AutoMuteSampleThreshold is the minimum sample count at which a D grade
// triggers auto-mute (spec §3).
const AutoMuteSampleThreshold = 50

// Health is a witness's rolling performance snapshot.
type Health struct {
	WinRate     float64
	SampleCount int
	Grade       Grade
}

// WeightScalar returns the grade-derived health_factor scalar.
func (h Health) WeightScalar() float64 {
	if s, ok := weightScalarByGrade[h.Grade]; ok {
		return s
	}
	return 1.0
}

// AutoMute reports whether this health snapshot crosses the auto-mute
// threshold: grade D and sample_count >= 50. Auto-mute is a sub-state
// that suppresses claim emission without changing lifecycle status.
func (h Health) AutoMute() bool {
	return h.Grade == GradeD && h.SampleCount >= AutoMuteSampleThreshold
}

// GradeFromWinRate buckets a win rate into a grade. Bucket boundaries are
// an operator-tunable convention, not a spec invariant; callers needing a
// different curve can compute Health.Grade directly instead of using this
// helper.
func GradeFromWinRate(winRate float64) Grade {
	switch {
	case winRate >= 0.60:
		return GradeA
	case winRate >= 0.52:
		return GradeB
	case winRate >= 0.45:
		return GradeC
	default:
		return GradeD
	}
}
