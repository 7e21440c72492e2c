package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/readycheck/internal/stage"
	"github.com/haatos/readycheck/internal/store"
	"go.uber.org/zap"
)

const sandboxRepositoryID = "sandbox"

var errEmptyStageResult = errors.New("stage returned no result")

type TriggerMetadata struct {
	PRNumber      int          `json:"prNumber"`
	PRSha         string       `json:"prSha"`
	PRTitle       string       `json:"prTitle"`
	UserID        string       `json:"userId"`
	CommitMessage string       `json:"commitMessage"`
	Diff          string       `json:"diff"`
	Files         []stage.File `json:"files"`
}

type RunConfig struct {
	SkipReviewGuard bool `json:"skipReviewGuard"`
	SkipTestEngine  bool `json:"skipTestEngine"`
	SkipDocSync     bool `json:"skipDocSync"`
}

// RunRequest is the input of one pipeline run. A nil Metadata or nil
// Metadata.Files means the input is absent, not empty.
type RunRequest struct {
	RepositoryID   *string          `json:"repositoryId"`
	SandboxID      *string          `json:"sandboxId"`
	OrganizationID *string          `json:"organizationId"`
	DeliveryID     *string          `json:"-"`
	Trigger        store.Trigger    `json:"trigger"`
	Metadata       *TriggerMetadata `json:"triggerMetadata"`
	Config         RunConfig        `json:"config"`
}

func (r RunRequest) files() []stage.File {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata.Files
}

func (r RunRequest) prSha() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.PRSha
}

func (r RunRequest) repositoryID() string {
	if r.RepositoryID == nil {
		return sandboxRepositoryID
	}
	return *r.RepositoryID
}

type RunResult struct {
	Run    *store.Run    `json:"run"`
	Stages []StageReport `json:"stages"`
}

type Stages struct {
	ReviewGuard stage.ReviewGuard
	TestEngine  stage.TestEngine
	DocSync     stage.DocSync
}

var driftPolicy = stage.DriftPolicy{
	DriftPrevention: stage.DriftPrevention{Enabled: true, Action: "block", CheckOn: "pr"},
	UpdateStrategy:  "pull_request",
}

type RunPipelineService struct {
	runStore      store.RunStore
	stages        Stages
	audit         AuditSink
	metrics       RunMetrics
	uuidGenerator UUIDGenerator
	logger        *zap.Logger
	stageTimeout  time.Duration
	now           func() time.Time
}

func NewRunPipelineService(
	runStore store.RunStore,
	stages Stages,
	audit AuditSink,
	metrics RunMetrics,
	uuidGenerator UUIDGenerator,
	logger *zap.Logger,
	stageTimeout time.Duration,
) *RunPipelineService {
	return &RunPipelineService{
		runStore:      runStore,
		stages:        stages,
		audit:         audit,
		metrics:       metrics,
		uuidGenerator: uuidGenerator,
		logger:        logger,
		stageTimeout:  stageTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *RunPipelineService) GetRunByID(ctx context.Context, id string) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, id)
}

func (s *RunPipelineService) GetRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error) {
	return s.runStore.ReadRunByDeliveryID(ctx, deliveryID)
}

func (s *RunPipelineService) ListRuns(ctx context.Context, limit, offset int64) ([]store.Run, error) {
	return s.runStore.ListRuns(ctx, limit, offset)
}

// ExecuteRun runs Review Guard, Test Engine and Doc Sync in order and records
// every stage boundary on the run. A stage that fails never stops the
// pipeline; only store errors end a run early, in which case the run is
// marked failed and the error returned.
func (s *RunPipelineService) ExecuteRun(ctx context.Context, req RunRequest) (*RunResult, error) {
	if !req.Trigger.Valid() {
		return nil, ErrInvalidTrigger{Trigger: string(req.Trigger)}
	}
	// a run proceeds to completion once started
	ctx = context.WithoutCancel(ctx)

	startedAt := s.now()
	params := store.CreateRunParams{
		RunID:             s.uuidGenerator.GenerateUUID(),
		CorrelationID:     newCorrelationID(startedAt),
		RepositoryID:      req.RepositoryID,
		SandboxID:         req.SandboxID,
		Trigger:           req.Trigger,
		DeliveryID:        req.DeliveryID,
		Status:            store.StatusRunning,
		ReviewGuardStatus: initialStageStatus(req.Config.SkipReviewGuard || req.files() == nil),
		TestEngineStatus:  initialStageStatus(req.Config.SkipTestEngine || req.files() == nil),
		DocSyncStatus:     initialStageStatus(req.Config.SkipDocSync || req.prSha() == ""),
		StartedAt:         startedAt,
	}
	logger := s.logger.With(
		zap.String("run_id", params.RunID),
		zap.String("correlation_id", params.CorrelationID),
		zap.String("trigger", string(req.Trigger)),
	)

	run, err := s.runStore.CreateRun(ctx, params)
	if err != nil {
		s.abortRun(ctx, logger, params.RunID, err)
		return nil, fmt.Errorf("err creating run: %w", err)
	}
	logger.Info("run started")

	rg, err := s.reviewGuardStage(ctx, logger, run, req)
	if err != nil {
		s.abortRun(ctx, logger, run.RunID, err)
		return nil, err
	}
	te, err := s.testEngineStage(ctx, logger, run, req)
	if err != nil {
		s.abortRun(ctx, logger, run.RunID, err)
		return nil, err
	}
	ds, err := s.docSyncStage(ctx, logger, run, req)
	if err != nil {
		s.abortRun(ctx, logger, run.RunID, err)
		return nil, err
	}

	gates := EvaluateGates(rg.Value, ds.Value)
	conclusion := DeriveConclusion(gates, rg.Outcome, te.Outcome, ds.Outcome)
	completedAt := s.now()
	status := store.StatusCompleted
	if err := s.updateRun(ctx, run, store.RunPatch{
		Status:      &status,
		Conclusion:  &conclusion,
		GatesPassed: &gates.Passed,
		GatesFailed: gates.Failed,
		CompletedAt: &completedAt,
	}); err != nil {
		s.abortRun(ctx, logger, run.RunID, err)
		return nil, err
	}

	reports := []StageReport{
		rg.Report(StageReviewGuard),
		te.Report(StageTestEngine),
		ds.Report(StageDocSync),
	}
	s.audit.Record(ctx, s.completedAuditLog(req, run, reports))
	for _, r := range reports {
		s.metrics.ObserveStage(r.Stage, r.Outcome)
	}
	s.metrics.ObserveRun(run.Trigger, conclusion, completedAt.Sub(startedAt))
	logger.Info("run completed",
		zap.String("conclusion", string(conclusion)),
		zap.Bool("gates_passed", gates.Passed),
	)

	return &RunResult{Run: run, Stages: reports}, nil
}

func (s *RunPipelineService) reviewGuardStage(
	ctx context.Context,
	logger *zap.Logger,
	run *store.Run,
	req RunRequest,
) (StageResult[store.ReviewGuardResult], error) {
	if run.ReviewGuardStatus == store.StageSkipped {
		return skippedStage[store.ReviewGuardResult](), nil
	}
	startedAt, err := s.startStage(ctx, run, StageReviewGuard)
	if err != nil {
		return StageResult[store.ReviewGuardResult]{}, err
	}

	input := stage.ReviewInput{
		RepositoryID: req.repositoryID(),
		PRNumber:     req.Metadata.PRNumber,
		PRSha:        req.Metadata.PRSha,
		PRTitle:      req.Metadata.PRTitle,
		Diff:         req.Metadata.Diff,
		Files:        req.Metadata.Files,
	}
	review, err := callStage(ctx, s.stageTimeout, func(ctx context.Context) (*stage.Review, error) {
		return s.stages.ReviewGuard.Review(ctx, input)
	})
	if err == nil && review == nil {
		err = errEmptyStageResult
	}
	completedAt := s.now()

	var res StageResult[store.ReviewGuardResult]
	switch {
	case err != nil:
		logger.Error("stage errored", zap.String("stage", StageReviewGuard), zap.Error(err))
		res = erroredStage[store.ReviewGuardResult](err, startedAt, completedAt)
	case review.IsBlocked:
		logger.Warn("stage blocked", zap.String("stage", StageReviewGuard), zap.Int("issues", len(review.Issues)))
		res = blockedStage(reviewGuardResult(review), startedAt, completedAt)
	default:
		res = succeededStage(reviewGuardResult(review), startedAt, completedAt)
	}

	patch := stagePatch(StageReviewGuard, res.Status(), nil, &completedAt)
	patch.ReviewGuardResult = res.Value
	return res, s.updateRun(ctx, run, patch)
}

func reviewGuardResult(review *stage.Review) store.ReviewGuardResult {
	return store.ReviewGuardResult{
		ReviewID:    review.ID,
		IssuesFound: len(review.Issues),
		IsBlocked:   review.IsBlocked,
		Summary: store.SeveritySummary{
			Total:    review.Summary.Total,
			Critical: review.Summary.Critical,
			High:     review.Summary.High,
			Medium:   review.Summary.Medium,
			Low:      review.Summary.Low,
		},
	}
}

func (s *RunPipelineService) testEngineStage(
	ctx context.Context,
	logger *zap.Logger,
	run *store.Run,
	req RunRequest,
) (StageResult[store.TestEngineResult], error) {
	if run.TestEngineStatus == store.StageSkipped {
		return skippedStage[store.TestEngineResult](), nil
	}
	startedAt, err := s.startStage(ctx, run, StageTestEngine)
	if err != nil {
		return StageResult[store.TestEngineResult]{}, err
	}

	repositoryID := req.repositoryID()
	commitFiles := make([]stage.CommitFile, 0, len(req.Metadata.Files))
	contents := make(map[string]string, len(req.Metadata.Files))
	for _, f := range req.Metadata.Files {
		commitFiles = append(commitFiles, stage.CommitFile{
			Path:          f.Path,
			Content:       f.Content,
			CommitMessage: req.Metadata.CommitMessage,
		})
		contents[f.Path] = f.Content
	}

	detections, err := callStage(ctx, s.stageTimeout, func(ctx context.Context) ([]stage.Detection, error) {
		return s.stages.TestEngine.DetectAITouchedFiles(ctx, repositoryID, commitFiles)
	})
	if err != nil {
		logger.Error("stage errored", zap.String("stage", StageTestEngine), zap.Error(err))
		completedAt := s.now()
		res := erroredStage[store.TestEngineResult](err, startedAt, completedAt)
		return res, s.updateRun(ctx, run, stagePatch(StageTestEngine, res.Status(), nil, &completedAt))
	}

	touched := make(store.AITouchedFiles, 0, len(detections))
	for _, d := range detections {
		touched = append(touched, store.AITouchedFile{Path: d.Path, Confidence: d.Confidence, Methods: d.Methods})
	}
	detected := len(touched) > 0
	if err := s.updateRun(ctx, run, store.RunPatch{
		AITouchedDetected: &detected,
		AITouchedFiles:    touched,
	}); err != nil {
		return StageResult[store.TestEngineResult]{}, err
	}

	attempted, generated := 0, 0
	for _, d := range detections {
		content := contents[d.Path]
		if content == "" {
			continue
		}
		attempted++
		testReq := stage.TestRequest{
			RepositoryID: repositoryID,
			PRNumber:     req.Metadata.PRNumber,
			PRSha:        req.Metadata.PRSha,
			FilePath:     d.Path,
			FileContent:  content,
		}
		if _, err := callStage(ctx, s.stageTimeout, func(ctx context.Context) (*stage.GeneratedTest, error) {
			return s.stages.TestEngine.GenerateTests(ctx, testReq)
		}); err != nil {
			logger.Warn("test generation failed", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		generated++
	}

	completedAt := s.now()
	res := succeededStage(store.TestEngineResult{
		TestsGenerated: generated,
		MeetsThreshold: generated == attempted,
	}, startedAt, completedAt)
	patch := stagePatch(StageTestEngine, res.Status(), nil, &completedAt)
	patch.TestEngineResult = res.Value
	return res, s.updateRun(ctx, run, patch)
}

func (s *RunPipelineService) docSyncStage(
	ctx context.Context,
	logger *zap.Logger,
	run *store.Run,
	req RunRequest,
) (StageResult[store.DocSyncResult], error) {
	if run.DocSyncStatus == store.StageSkipped {
		return skippedStage[store.DocSyncResult](), nil
	}
	startedAt, err := s.startStage(ctx, run, StageDocSync)
	if err != nil {
		return StageResult[store.DocSyncResult]{}, err
	}

	repositoryID, ref := req.repositoryID(), req.Metadata.PRSha
	report, err := callStage(ctx, s.stageTimeout, func(ctx context.Context) (*stage.DriftReport, error) {
		return s.stages.DocSync.CheckDrift(ctx, repositoryID, ref, driftPolicy)
	})
	if err == nil && report == nil {
		err = errEmptyStageResult
	}
	completedAt := s.now()

	var res StageResult[store.DocSyncResult]
	switch {
	case err != nil:
		logger.Error("stage errored", zap.String("stage", StageDocSync), zap.Error(err))
		res = erroredStage[store.DocSyncResult](err, startedAt, completedAt)
	default:
		value := store.DocSyncResult{
			DriftDetected:    report.DriftDetected,
			MissingEndpoints: len(report.MissingEndpoints),
			ChangedEndpoints: len(report.ChangedEndpoints),
		}
		if report.IsBlocked {
			logger.Warn("stage blocked", zap.String("stage", StageDocSync), zap.Int("missing_endpoints", value.MissingEndpoints))
			res = blockedStage(value, startedAt, completedAt)
		} else {
			res = succeededStage(value, startedAt, completedAt)
		}
	}

	patch := stagePatch(StageDocSync, res.Status(), nil, &completedAt)
	patch.DocSyncResult = res.Value
	return res, s.updateRun(ctx, run, patch)
}

func (s *RunPipelineService) startStage(ctx context.Context, run *store.Run, name string) (time.Time, error) {
	startedAt := s.now()
	return startedAt, s.updateRun(ctx, run, stagePatch(name, store.StageRunning, &startedAt, nil))
}

// updateRun writes patch and mirrors it onto the in-memory run.
func (s *RunPipelineService) updateRun(ctx context.Context, run *store.Run, patch store.RunPatch) error {
	if err := s.runStore.UpdateRun(ctx, run.RunID, patch); err != nil {
		return fmt.Errorf("err updating run %s: %w", run.RunID, err)
	}
	patch.ApplyTo(run)
	return nil
}

func (s *RunPipelineService) abortRun(ctx context.Context, logger *zap.Logger, runID string, cause error) {
	status := store.StatusFailed
	conclusion := store.ConclusionFailure
	completedAt := s.now()
	if err := s.runStore.UpdateRun(ctx, runID, store.RunPatch{
		Status:      &status,
		Conclusion:  &conclusion,
		CompletedAt: &completedAt,
	}); err != nil {
		logger.Warn("err marking run failed", zap.Error(err))
	}
	logger.Error("run failed", zap.Error(cause))
}

func (s *RunPipelineService) completedAuditLog(req RunRequest, run *store.Run, reports []StageReport) store.AuditLog {
	details, err := json.Marshal(map[string]any{
		"correlationId": run.CorrelationID,
		"trigger":       run.Trigger,
		"conclusion":    run.Conclusion,
		"gatesPassed":   run.GatesPassed,
		"gatesFailed":   run.GatesFailed,
		"stages":        reports,
	})
	if err != nil {
		details = []byte("{}")
	}
	entry := store.AuditLog{
		OrganizationID: req.OrganizationID,
		Action:         "run.completed",
		ResourceType:   "run",
		ResourceID:     run.RunID,
		Details:        string(details),
		RunID:          &run.RunID,
		CreatedAt:      s.now(),
	}
	if req.Metadata != nil && req.Metadata.UserID != "" {
		entry.UserID = &req.Metadata.UserID
	}
	return entry
}

func initialStageStatus(skip bool) store.StageStatus {
	if skip {
		return store.StageSkipped
	}
	return store.StagePending
}

func stagePatch(name string, status store.StageStatus, startedAt, completedAt *time.Time) store.RunPatch {
	var patch store.RunPatch
	switch name {
	case StageReviewGuard:
		patch.ReviewGuardStatus = &status
		patch.ReviewGuardStartedAt = startedAt
		patch.ReviewGuardCompletedAt = completedAt
	case StageTestEngine:
		patch.TestEngineStatus = &status
		patch.TestEngineStartedAt = startedAt
		patch.TestEngineCompletedAt = completedAt
	case StageDocSync:
		patch.DocSyncStatus = &status
		patch.DocSyncStartedAt = startedAt
		patch.DocSyncCompletedAt = completedAt
	}
	return patch
}

// callStage runs fn under timeout. An adapter that ignores its context is
// abandoned once the timeout passes.
func callStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	doneCh := make(chan result, 1)
	go func() {
		v, err := fn(timeoutCtx)
		doneCh <- result{v, err}
	}()

	select {
	case <-timeoutCtx.Done():
		var zero T
		return zero, fmt.Errorf("stage timed out after %s: %w", timeout, timeoutCtx.Err())
	case r := <-doneCh:
		return r.value, r.err
	}
}

// newCorrelationID returns an id like run_20250102T150405_1a2b3c4d.
func newCorrelationID(t time.Time) string {
	id := uuid.New()
	return "run_" + t.UTC().Format("20060102T150405") + "_" + hex.EncodeToString(id[:4])
}
