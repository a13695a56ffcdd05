package benchmark

// Verdict names the faster side of a trial.
type Verdict int

const (
	VerdictBaselineFaster Verdict = iota
	VerdictTreatmentFaster
)

func (v Verdict) String() string {
	if v == VerdictTreatmentFaster {
		return "treatment_faster"
	}
	return "baseline_faster"
}

// Compare returns VerdictTreatmentFaster only when treatment is strictly
// less than baseline. Ties go to the baseline.
func Compare(treatmentMillis, baselineMillis float64) Verdict {
	if treatmentMillis < baselineMillis {
		return VerdictTreatmentFaster
	}
	return VerdictBaselineFaster
}

// WinRate returns the share of committed trials the treatment won.
func (r *SiteResult) WinRate() float64 {
	total := r.Len()
	if total == 0 {
		return 0
	}
	return float64(r.Verdicts[VerdictTreatmentFaster]) / float64(total)
}
