package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/google/go-github/v57/github"
	"github.com/haatos/readycheck/internal/service"
	"github.com/haatos/readycheck/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

type RunEnqueuer interface {
	Enqueue(job service.WebhookJob) error
}

type DeliveryLookup interface {
	GetRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error)
}

type webhookResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId,omitempty"`
}

func SetupWebhookRoutes(
	g *echo.Group,
	deliveries DeliveryLookup,
	runGate service.RunGate,
	queue RunEnqueuer,
	webhookSecret []byte,
	logger *zap.Logger,
) {
	h := NewWebhookHandler(deliveries, runGate, queue, webhookSecret, logger)
	g.POST("/webhooks/github", h.PostGitHubWebhook)
}

type WebhookHandler struct {
	deliveries    DeliveryLookup
	runGate       service.RunGate
	queue         RunEnqueuer
	webhookSecret []byte
	logger        *zap.Logger
}

func NewWebhookHandler(
	deliveries DeliveryLookup,
	runGate service.RunGate,
	queue RunEnqueuer,
	webhookSecret []byte,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{deliveries, runGate, queue, webhookSecret, logger}
}

// PostGitHubWebhook turns pull request events into queued webhook runs. A
// delivery that already has a run is acknowledged with that run's id.
func (h *WebhookHandler) PostGitHubWebhook(c echo.Context) error {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, maxWebhookBodyBytes)

	payload, err := github.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		return newError(err, http.StatusUnauthorized, "invalid signature")
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		return newError(err, http.StatusBadRequest, "invalid payload")
	}

	e, ok := event.(*github.PullRequestEvent)
	if !ok {
		h.logger.Debug("ignoring event type", zap.String("type", github.WebHookType(r)))
		return c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
	}
	switch e.GetAction() {
	case "opened", "synchronize", "reopened":
	default:
		h.logger.Debug("ignoring pull request action", zap.String("action", e.GetAction()))
		return c.JSON(http.StatusOK, webhookResponse{Status: "ignored"})
	}
	if err := validatePullRequestEvent(e); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pull request event")
	}

	deliveryID := github.DeliveryID(r)
	if deliveryID == "" {
		return newError(nil, http.StatusBadRequest, "missing delivery id")
	}
	existing, err := h.deliveries.GetRunByDeliveryID(r.Context(), deliveryID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, webhookResponse{Status: "duplicate", RunID: existing.RunID})
	case !errors.Is(err, sql.ErrNoRows):
		return newError(err, http.StatusInternalServerError, "unable to read delivery")
	}

	job := webhookJob(e, deliveryID)
	if err := h.runGate.Allow(r.Context(), job.Request); err != nil {
		return runGateError(err)
	}
	if err := h.queue.Enqueue(job); err != nil {
		var queueFull *service.ErrRunQueueFull
		if errors.As(err, &queueFull) {
			return newError(err, http.StatusTooManyRequests, "run queue is full")
		}
		return newError(err, http.StatusServiceUnavailable, "run queue is unavailable")
	}

	h.logger.Info("webhook run queued",
		zap.String("delivery_id", deliveryID),
		zap.String("repository", *job.Request.RepositoryID),
		zap.Int("pr_number", job.PullRequest.Number),
	)
	return c.JSON(http.StatusAccepted, webhookResponse{Status: "queued"})
}

func validatePullRequestEvent(e *github.PullRequestEvent) error {
	pr := e.GetPullRequest()
	if pr.GetNumber() <= 0 {
		return errors.New("invalid pull request number")
	}
	if !validNameRegex.MatchString(e.GetRepo().GetOwner().GetLogin()) {
		return errors.New("invalid repository owner")
	}
	if !validNameRegex.MatchString(e.GetRepo().GetName()) {
		return errors.New("invalid repository name")
	}
	if pr.GetHead().GetSHA() == "" {
		return errors.New("missing head sha")
	}
	return nil
}

func webhookJob(e *github.PullRequestEvent, deliveryID string) service.WebhookJob {
	pr := e.GetPullRequest()
	owner, repo := e.GetRepo().GetOwner().GetLogin(), e.GetRepo().GetName()
	repositoryID := fmt.Sprintf("%s/%s", owner, repo)

	req := service.RunRequest{
		RepositoryID: &repositoryID,
		DeliveryID:   &deliveryID,
		Trigger:      store.TriggerWebhook,
		Metadata: &service.TriggerMetadata{
			PRNumber: pr.GetNumber(),
			PRSha:    pr.GetHead().GetSHA(),
			PRTitle:  pr.GetTitle(),
			UserID:   e.GetSender().GetLogin(),
		},
	}
	if login := e.GetOrganization().GetLogin(); login != "" {
		req.OrganizationID = &login
	}
	return service.WebhookJob{
		Request: req,
		PullRequest: service.PullRequestRef{
			Owner:   owner,
			Repo:    repo,
			Number:  pr.GetNumber(),
			HeadSHA: pr.GetHead().GetSHA(),
			BaseSHA: pr.GetBase().GetSHA(),
		},
	}
}
