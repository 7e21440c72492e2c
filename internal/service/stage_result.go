package service

import (
	"time"

	"github.com/haatos/readycheck/internal/store"
)

const (
	StageReviewGuard = "review_guard"
	StageTestEngine  = "test_engine"
	StageDocSync     = "doc_sync"
)

// StageOutcome tells apart the ways a stage can end. Blocked and errored both
// store as a failed stage; a blocked stage keeps its result, an errored one
// has none.
type StageOutcome string

const (
	OutcomeSkipped   StageOutcome = "skipped"
	OutcomeSucceeded StageOutcome = "succeeded"
	OutcomeBlocked   StageOutcome = "blocked"
	OutcomeErrored   StageOutcome = "errored"
)

func (o StageOutcome) Status() store.StageStatus {
	switch o {
	case OutcomeSkipped:
		return store.StageSkipped
	case OutcomeSucceeded:
		return store.StageSucceeded
	default:
		return store.StageFailed
	}
}

// StageResult is the value one stage hands to the pipeline driver.
type StageResult[T any] struct {
	Outcome     StageOutcome
	Value       *T
	Err         error
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func skippedStage[T any]() StageResult[T] {
	return StageResult[T]{Outcome: OutcomeSkipped}
}

func succeededStage[T any](v T, startedAt, completedAt time.Time) StageResult[T] {
	return StageResult[T]{Outcome: OutcomeSucceeded, Value: &v, StartedAt: &startedAt, CompletedAt: &completedAt}
}

func blockedStage[T any](v T, startedAt, completedAt time.Time) StageResult[T] {
	return StageResult[T]{Outcome: OutcomeBlocked, Value: &v, StartedAt: &startedAt, CompletedAt: &completedAt}
}

func erroredStage[T any](err error, startedAt, completedAt time.Time) StageResult[T] {
	return StageResult[T]{Outcome: OutcomeErrored, Err: err, StartedAt: &startedAt, CompletedAt: &completedAt}
}

func (r StageResult[T]) Status() store.StageStatus {
	return r.Outcome.Status()
}

func (r StageResult[T]) Report(stage string) StageReport {
	report := StageReport{
		Stage:       stage,
		Status:      r.Status(),
		Outcome:     r.Outcome,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Err != nil {
		report.Error = r.Err.Error()
	}
	return report
}

type StageReport struct {
	Stage       string            `json:"stage"`
	Status      store.StageStatus `json:"status"`
	Outcome     StageOutcome      `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt"`
}
