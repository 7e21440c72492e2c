package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/haatos/readycheck/internal"
	"github.com/haatos/readycheck/internal/service"
	"github.com/haatos/readycheck/internal/store"
	"github.com/labstack/echo/v4"
)

const defaultRunsLimit = 20

type RunExecutor interface {
	ExecuteRun(ctx context.Context, req service.RunRequest) (*service.RunResult, error)
	CreateSandboxRun(ctx context.Context) (*service.RunResult, error)
}

type RunReader interface {
	GetRunByID(ctx context.Context, id string) (*store.Run, error)
	GetRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error)
	ListRuns(ctx context.Context, limit, offset int64) ([]store.Run, error)
}

type RunPipelineServicer interface {
	RunExecutor
	RunReader
}

type IntentLister interface {
	ListRunIntents(ctx context.Context, runID string) ([]store.OutboxIntent, error)
}

func SetupRunRoutes(
	g *echo.Group,
	runService RunPipelineServicer,
	intentLister IntentLister,
	runGate service.RunGate,
	apiKeyValidator APIKeyValidator,
) {
	h := NewRunHandler(runService, intentLister, runGate)
	g.POST("/api/runs/sandbox", h.PostSandboxRun)

	runsGroup := g.Group("/api/runs", RequireAPIKey(apiKeyValidator))
	runsGroup.POST("", h.PostRun)
	runsGroup.GET("", h.GetRuns)
	runsGroup.GET("/:run_id", h.GetRun)
	runsGroup.GET("/:run_id/intents", h.GetRunIntents)
}

type RunHandler struct {
	runService   RunPipelineServicer
	intentLister IntentLister
	runGate      service.RunGate
}

func NewRunHandler(
	runService RunPipelineServicer,
	intentLister IntentLister,
	runGate service.RunGate,
) *RunHandler {
	return &RunHandler{runService, intentLister, runGate}
}

// PostRun executes a manual run and responds once it has finished.
func (h *RunHandler) PostRun(c echo.Context) error {
	req := service.RunRequest{}
	if err := c.Bind(&req); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}
	if req.RepositoryID == nil || strings.TrimSpace(*req.RepositoryID) == "" {
		return newError(nil, http.StatusBadRequest, "repositoryId is required")
	}
	req.Trigger = store.TriggerManual
	req.SandboxID = nil
	req.DeliveryID = nil

	if err := h.runGate.Allow(c.Request().Context(), req); err != nil {
		return runGateError(err)
	}

	result, err := h.runService.ExecuteRun(c.Request().Context(), req)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to execute run")
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *RunHandler) PostSandboxRun(c echo.Context) error {
	result, err := h.runService.CreateSandboxRun(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to execute sandbox run")
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *RunHandler) GetRuns(c echo.Context) error {
	lrp := new(ListRunsParams)
	if err := c.Bind(lrp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid paging data")
	}
	if lrp.Limit <= 0 {
		lrp.Limit = defaultRunsLimit
	}
	lrp.Limit = min(lrp.Limit, internal.MaxRunsPerPage)
	lrp.Offset = max(lrp.Offset, 0)

	runs, err := h.runService.ListRuns(c.Request().Context(), lrp.Limit, lrp.Offset)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list runs")
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	r, err := h.runService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *RunHandler) GetRunIntents(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	if _, err := h.runService.GetRunByID(c.Request().Context(), rp.RunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run")
	}
	intents, err := h.intentLister.ListRunIntents(c.Request().Context(), rp.RunID)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list run intents")
	}
	return c.JSON(http.StatusOK, intents)
}

func runGateError(err error) error {
	var notEntitled service.ErrRunNotEntitled
	if errors.As(err, &notEntitled) {
		return newError(err, http.StatusPaymentRequired, notEntitled.Error())
	}
	return newError(err, http.StatusInternalServerError, "unable to check run entitlement")
}
