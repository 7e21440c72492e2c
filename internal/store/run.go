package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrRunImmutable = errors.New("run is in a terminal state and can no longer be updated")

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether a run in this status may no longer be written.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionPartialSuccess Conclusion = "partial_success"
	ConclusionCancelled      Conclusion = "cancelled"
)

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

func (s StageStatus) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerManual  Trigger = "manual"
	TriggerSandbox Trigger = "sandbox"
)

func (t Trigger) Valid() bool {
	return t == TriggerWebhook || t == TriggerManual || t == TriggerSandbox
}

type SeveritySummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

type ReviewGuardResult struct {
	ReviewID    string          `json:"reviewId"`
	IssuesFound int             `json:"issuesFound"`
	IsBlocked   bool            `json:"isBlocked"`
	Summary     SeveritySummary `json:"summary"`
}

func (r ReviewGuardResult) Value() (driver.Value, error) { return jsonValue(r) }
func (r *ReviewGuardResult) Scan(src any) error          { return jsonScan(src, r) }

type TestEngineResult struct {
	TestsGenerated int  `json:"testsGenerated"`
	MeetsThreshold bool `json:"meetsThreshold"`
}

func (r TestEngineResult) Value() (driver.Value, error) { return jsonValue(r) }
func (r *TestEngineResult) Scan(src any) error          { return jsonScan(src, r) }

type DocSyncResult struct {
	DriftDetected    bool `json:"driftDetected"`
	MissingEndpoints int  `json:"missingEndpoints"`
	ChangedEndpoints int  `json:"changedEndpoints"`
}

func (r DocSyncResult) Value() (driver.Value, error) { return jsonValue(r) }
func (r *DocSyncResult) Scan(src any) error          { return jsonScan(src, r) }

type AITouchedFile struct {
	Path       string   `json:"path"`
	Confidence float64  `json:"confidence"`
	Methods    []string `json:"methods"`
}

type AITouchedFiles []AITouchedFile

func (f AITouchedFiles) Value() (driver.Value, error) {
	if f == nil {
		f = AITouchedFiles{}
	}
	return jsonValue([]AITouchedFile(f))
}

func (f *AITouchedFiles) Scan(src any) error { return jsonScan(src, (*[]AITouchedFile)(f)) }

type GateFailure struct {
	Gate   string `json:"gate"`
	Reason string `json:"reason"`
}

type GateFailures []GateFailure

func (g GateFailures) Value() (driver.Value, error) {
	if g == nil {
		g = GateFailures{}
	}
	return jsonValue([]GateFailure(g))
}

func (g *GateFailures) Scan(src any) error { return jsonScan(src, (*[]GateFailure)(g)) }

// Run is one execution of the readiness pipeline. Stage results stay nil until
// the stage completes with a verdict.
type Run struct {
	RunID         string      `db:"run_id"         json:"id"            param:"run_id"`
	CorrelationID string      `db:"correlation_id" json:"correlationId"`
	RepositoryID  *string     `db:"repository_id"  json:"repositoryId"`
	SandboxID     *string     `db:"sandbox_id"     json:"sandboxId"`
	Trigger       Trigger     `db:"run_trigger"    json:"trigger"`
	DeliveryID    *string     `db:"delivery_id"    json:"deliveryId,omitempty"`
	Status        RunStatus   `db:"status"         json:"status"`
	Conclusion    *Conclusion `db:"conclusion"     json:"conclusion"`

	ReviewGuardStatus      StageStatus        `db:"review_guard_status"       json:"reviewGuardStatus"`
	ReviewGuardStartedAt   *time.Time         `db:"review_guard_started_at"   json:"reviewGuardStartedAt"`
	ReviewGuardCompletedAt *time.Time         `db:"review_guard_completed_at" json:"reviewGuardCompletedAt"`
	ReviewGuardResult      *ReviewGuardResult `db:"review_guard_result"       json:"reviewGuardResult"`

	TestEngineStatus      StageStatus       `db:"test_engine_status"       json:"testEngineStatus"`
	TestEngineStartedAt   *time.Time        `db:"test_engine_started_at"   json:"testEngineStartedAt"`
	TestEngineCompletedAt *time.Time        `db:"test_engine_completed_at" json:"testEngineCompletedAt"`
	TestEngineResult      *TestEngineResult `db:"test_engine_result"       json:"testEngineResult"`

	DocSyncStatus      StageStatus    `db:"doc_sync_status"       json:"docSyncStatus"`
	DocSyncStartedAt   *time.Time     `db:"doc_sync_started_at"   json:"docSyncStartedAt"`
	DocSyncCompletedAt *time.Time     `db:"doc_sync_completed_at" json:"docSyncCompletedAt"`
	DocSyncResult      *DocSyncResult `db:"doc_sync_result"       json:"docSyncResult"`

	AITouchedDetected bool           `db:"ai_touched_detected" json:"aiTouchedDetected"`
	AITouchedFiles    AITouchedFiles `db:"ai_touched_files"    json:"aiTouchedFiles"`

	GatesPassed *bool        `db:"gates_passed" json:"gatesPassed"`
	GatesFailed GateFailures `db:"gates_failed" json:"gatesFailed"`

	StartedAt   time.Time  `db:"started_at"   json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
}

type RunStore interface {
	CreateRun(context.Context, CreateRunParams) (*Run, error)
	ReadRunByID(context.Context, string) (*Run, error)
	ReadRunByDeliveryID(context.Context, string) (*Run, error)
	UpdateRun(context.Context, string, RunPatch) error
	ListRuns(context.Context, int64, int64) ([]Run, error)
	CountRepositoryRunsSince(context.Context, string, time.Time) (int64, error)
}

type CreateRunParams struct {
	RunID             string
	CorrelationID     string
	RepositoryID      *string
	SandboxID         *string
	Trigger           Trigger
	DeliveryID        *string
	Status            RunStatus
	ReviewGuardStatus StageStatus
	TestEngineStatus  StageStatus
	DocSyncStatus     StageStatus
	StartedAt         time.Time
}

func (p CreateRunParams) Run() *Run {
	return &Run{
		RunID:             p.RunID,
		CorrelationID:     p.CorrelationID,
		RepositoryID:      p.RepositoryID,
		SandboxID:         p.SandboxID,
		Trigger:           p.Trigger,
		DeliveryID:        p.DeliveryID,
		Status:            p.Status,
		ReviewGuardStatus: p.ReviewGuardStatus,
		TestEngineStatus:  p.TestEngineStatus,
		DocSyncStatus:     p.DocSyncStatus,
		AITouchedFiles:    AITouchedFiles{},
		GatesFailed:       GateFailures{},
		StartedAt:         p.StartedAt,
	}
}

// RunPatch is a partial update of a run. Nil fields are left untouched.
type RunPatch struct {
	Status      *RunStatus
	Conclusion  *Conclusion
	CompletedAt *time.Time

	ReviewGuardStatus      *StageStatus
	ReviewGuardStartedAt   *time.Time
	ReviewGuardCompletedAt *time.Time
	ReviewGuardResult      *ReviewGuardResult

	TestEngineStatus      *StageStatus
	TestEngineStartedAt   *time.Time
	TestEngineCompletedAt *time.Time
	TestEngineResult      *TestEngineResult

	DocSyncStatus      *StageStatus
	DocSyncStartedAt   *time.Time
	DocSyncCompletedAt *time.Time
	DocSyncResult      *DocSyncResult

	AITouchedDetected *bool
	AITouchedFiles    AITouchedFiles

	GatesPassed *bool
	GatesFailed GateFailures
}

type columnValue struct {
	column string
	value  any
}

func (p RunPatch) columns() []columnValue {
	cols := make([]columnValue, 0, 8)
	add := func(column string, set bool, value any) {
		if set {
			cols = append(cols, columnValue{column, value})
		}
	}
	add("status", p.Status != nil, p.Status)
	add("conclusion", p.Conclusion != nil, p.Conclusion)
	add("completed_at", p.CompletedAt != nil, p.CompletedAt)
	add("review_guard_status", p.ReviewGuardStatus != nil, p.ReviewGuardStatus)
	add("review_guard_started_at", p.ReviewGuardStartedAt != nil, p.ReviewGuardStartedAt)
	add("review_guard_completed_at", p.ReviewGuardCompletedAt != nil, p.ReviewGuardCompletedAt)
	add("review_guard_result", p.ReviewGuardResult != nil, p.ReviewGuardResult)
	add("test_engine_status", p.TestEngineStatus != nil, p.TestEngineStatus)
	add("test_engine_started_at", p.TestEngineStartedAt != nil, p.TestEngineStartedAt)
	add("test_engine_completed_at", p.TestEngineCompletedAt != nil, p.TestEngineCompletedAt)
	add("test_engine_result", p.TestEngineResult != nil, p.TestEngineResult)
	add("doc_sync_status", p.DocSyncStatus != nil, p.DocSyncStatus)
	add("doc_sync_started_at", p.DocSyncStartedAt != nil, p.DocSyncStartedAt)
	add("doc_sync_completed_at", p.DocSyncCompletedAt != nil, p.DocSyncCompletedAt)
	add("doc_sync_result", p.DocSyncResult != nil, p.DocSyncResult)
	add("ai_touched_detected", p.AITouchedDetected != nil, p.AITouchedDetected)
	add("ai_touched_files", p.AITouchedFiles != nil, p.AITouchedFiles)
	add("gates_passed", p.GatesPassed != nil, p.GatesPassed)
	add("gates_failed", p.GatesFailed != nil, p.GatesFailed)
	return cols
}

func (p RunPatch) IsEmpty() bool {
	return len(p.columns()) == 0
}

// ApplyTo copies the set fields of the patch onto r.
func (p RunPatch) ApplyTo(r *Run) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Conclusion != nil {
		c := *p.Conclusion
		r.Conclusion = &c
	}
	if p.CompletedAt != nil {
		r.CompletedAt = copyTime(p.CompletedAt)
	}
	if p.ReviewGuardStatus != nil {
		r.ReviewGuardStatus = *p.ReviewGuardStatus
	}
	if p.ReviewGuardStartedAt != nil {
		r.ReviewGuardStartedAt = copyTime(p.ReviewGuardStartedAt)
	}
	if p.ReviewGuardCompletedAt != nil {
		r.ReviewGuardCompletedAt = copyTime(p.ReviewGuardCompletedAt)
	}
	if p.ReviewGuardResult != nil {
		res := *p.ReviewGuardResult
		r.ReviewGuardResult = &res
	}
	if p.TestEngineStatus != nil {
		r.TestEngineStatus = *p.TestEngineStatus
	}
	if p.TestEngineStartedAt != nil {
		r.TestEngineStartedAt = copyTime(p.TestEngineStartedAt)
	}
	if p.TestEngineCompletedAt != nil {
		r.TestEngineCompletedAt = copyTime(p.TestEngineCompletedAt)
	}
	if p.TestEngineResult != nil {
		res := *p.TestEngineResult
		r.TestEngineResult = &res
	}
	if p.DocSyncStatus != nil {
		r.DocSyncStatus = *p.DocSyncStatus
	}
	if p.DocSyncStartedAt != nil {
		r.DocSyncStartedAt = copyTime(p.DocSyncStartedAt)
	}
	if p.DocSyncCompletedAt != nil {
		r.DocSyncCompletedAt = copyTime(p.DocSyncCompletedAt)
	}
	if p.DocSyncResult != nil {
		res := *p.DocSyncResult
		r.DocSyncResult = &res
	}
	if p.AITouchedDetected != nil {
		r.AITouchedDetected = *p.AITouchedDetected
	}
	if p.AITouchedFiles != nil {
		r.AITouchedFiles = append(AITouchedFiles{}, p.AITouchedFiles...)
	}
	if p.GatesPassed != nil {
		passed := *p.GatesPassed
		r.GatesPassed = &passed
	}
	if p.GatesFailed != nil {
		r.GatesFailed = append(GateFailures{}, p.GatesFailed...)
	}
}

func copyTime(t *time.Time) *time.Time {
	v := *t
	return &v
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
