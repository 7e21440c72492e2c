package service

import (
	"context"
	"errors"
	"sync"

	"github.com/haatos/readycheck/internal/store"
	"go.uber.org/zap"
)

var ErrRunQueueClosed = errors.New("run queue is shut down")

type RunExecutor interface {
	ExecuteRun(context.Context, RunRequest) (*RunResult, error)
}

type IntentPublisher interface {
	PublishRunIntents(context.Context, *store.Run, PRTarget) ([]store.OutboxIntent, error)
}

// WebhookJob is a pull request event waiting to be run.
type WebhookJob struct {
	Request     RunRequest
	PullRequest PullRequestRef
}

func NewRunQueue(
	executor RunExecutor,
	fetcher PullRequestFetcher,
	publisher IntentPublisher,
	logger *zap.Logger,
	maxRuns int64,
) *RunQueue {
	return &RunQueue{
		executor:  executor,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan WebhookJob, maxRuns),
		done:      make(chan struct{}),
	}
}

// RunQueue buffers webhook runs and executes them one at a time.
type RunQueue struct {
	executor  RunExecutor
	fetcher   PullRequestFetcher
	publisher IntentPublisher
	logger    *zap.Logger

	queue chan WebhookJob
	done  chan struct{}
	mu    sync.Mutex
}

func (rq *RunQueue) Enqueue(job WebhookJob) error {
	select {
	case <-rq.done:
		return ErrRunQueueClosed
	default:
	}
	select {
	case rq.queue <- job:
		return nil
	default:
		return NewErrRunQueueFull()
	}
}

func (rq *RunQueue) Run() {
	for {
		select {
		case job := <-rq.queue:
			rq.processJob(context.Background(), job)
		case <-rq.done:
			return
		}
	}
}

func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
	}
}

func (rq *RunQueue) processJob(ctx context.Context, job WebhookJob) {
	pr := job.PullRequest
	logger := rq.logger.With(
		zap.String("repository", pr.Owner+"/"+pr.Repo),
		zap.Int("pr_number", pr.Number),
	)

	req := job.Request
	metadata := TriggerMetadata{}
	if req.Metadata != nil {
		metadata = *req.Metadata
	}
	change, err := rq.fetcher.FetchPullRequest(ctx, pr)
	if err != nil {
		// without files the review and test stages are skipped
		logger.Warn("err fetching pull request", zap.Error(err))
	} else {
		metadata.Diff = change.Diff
		metadata.CommitMessage = change.CommitMessage
		metadata.Files = change.Files
	}
	req.Metadata = &metadata

	result, err := rq.executor.ExecuteRun(ctx, req)
	if err != nil {
		logger.Error("err executing webhook run", zap.Error(err))
		return
	}

	intents, err := rq.publisher.PublishRunIntents(ctx, result.Run, PRTarget{
		Owner:    pr.Owner,
		Repo:     pr.Repo,
		PRNumber: pr.Number,
		HeadSHA:  pr.HeadSHA,
	})
	if err != nil {
		logger.Error("err publishing run intents", zap.String("run_id", result.Run.RunID), zap.Error(err))
		return
	}
	logger.Info("webhook run finished",
		zap.String("run_id", result.Run.RunID),
		zap.Int("intents", len(intents)),
	)
}
