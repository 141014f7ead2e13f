package jobs

// SourceOutcome summarises one source's pipeline run within a job.
type SourceOutcome struct {
	Source     string `json:"source"`
	Candidates int    `json:"candidates"`
	Duplicates int    `json:"duplicates"`
	Extracted  int    `json:"extracted"`
	Saved      int    `json:"saved"`
	Errors     int    `json:"errors"`
	// Failed marks a source-level failure: feed error, nothing extractable
	// out of a non-empty candidate set, or a persistence error.
	Failed bool  `json:"failed"`
	Err    error `json:"-"`
}

// DeriveStatus computes the terminal status for the dispatched sources.
// Having nothing to derive from is a failure.
func DeriveStatus(outcomes []SourceOutcome) Status {
	if len(outcomes) == 0 {
		return StatusFailed
	}
	failed := 0
	for _, o := range outcomes {
		if o.Failed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusSuccessful
	case failed == len(outcomes):
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Totals sums saved articles and errors across outcomes.
func Totals(outcomes []SourceOutcome) (saved, errs int) {
	for _, o := range outcomes {
		saved += o.Saved
		errs += o.Errors
	}
	return saved, errs
}
