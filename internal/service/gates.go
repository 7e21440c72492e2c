package service

import (
	"fmt"
	"slices"

	"github.com/haatos/readycheck/internal/store"
)

type GateOutcome struct {
	Passed bool
	Failed store.GateFailures
}

// EvaluateGates derives the gate outcome from the stage results alone. Nil
// results never fail a gate.
func EvaluateGates(rg *store.ReviewGuardResult, ds *store.DocSyncResult) GateOutcome {
	failed := store.GateFailures{}
	if rg != nil && rg.IsBlocked {
		failed = append(failed, store.GateFailure{
			Gate:   StageReviewGuard,
			Reason: fmt.Sprintf("Review Guard blocked merge: %d issue(s) found", rg.IssuesFound),
		})
	}
	if ds != nil && ds.DriftDetected && ds.MissingEndpoints > 0 {
		failed = append(failed, store.GateFailure{
			Gate:   StageDocSync,
			Reason: fmt.Sprintf("Documentation drift: %d missing endpoint(s)", ds.MissingEndpoints),
		})
	}
	return GateOutcome{Passed: len(failed) == 0, Failed: failed}
}

// DeriveConclusion is failure when a gate failed or a stage was blocked,
// partial success when a stage errored and success otherwise.
func DeriveConclusion(gates GateOutcome, outcomes ...StageOutcome) store.Conclusion {
	if !gates.Passed || slices.Contains(outcomes, OutcomeBlocked) {
		return store.ConclusionFailure
	}
	if slices.Contains(outcomes, OutcomeErrored) {
		return store.ConclusionPartialSuccess
	}
	return store.ConclusionSuccess
}
