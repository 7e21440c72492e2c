package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/readycheck/internal"
	"github.com/haatos/readycheck/internal/logging"
	"github.com/haatos/readycheck/internal/service"
	"github.com/haatos/readycheck/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) ExecuteRun(ctx context.Context, req service.RunRequest) (*service.RunResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RunResult), args.Error(1)
}

func (m *MockRunService) CreateSandboxRun(ctx context.Context) (*service.RunResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RunResult), args.Error(1)
}

func (m *MockRunService) GetRunByID(ctx context.Context, id string) (*store.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockRunService) GetRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error) {
	args := m.Called(ctx, deliveryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockRunService) ListRuns(ctx context.Context, limit, offset int64) ([]store.Run, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Run), args.Error(1)
}

type MockIntentLister struct {
	mock.Mock
}

func (m *MockIntentLister) ListRunIntents(ctx context.Context, runID string) ([]store.OutboxIntent, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.OutboxIntent), args.Error(1)
}

type MockRunGate struct {
	mock.Mock
}

func (m *MockRunGate) Allow(ctx context.Context, req service.RunRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func newTestEcho() *echo.Echo {
	logger, _ := logging.NewObservedLogger()
	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(logger)
	return e
}

func TestRunHandler_PostRun(t *testing.T) {
	t.Run("success - manual run is executed", func(t *testing.T) {
		// arrange
		r := generateRun()
		mockService := new(MockRunService)
		mockGate := new(MockRunGate)
		manual := mock.MatchedBy(func(req service.RunRequest) bool {
			return req.Trigger == store.TriggerManual &&
				*req.RepositoryID == "acme/api" &&
				req.Metadata.PRSha == "abc" &&
				len(req.Metadata.Files) == 1 &&
				req.Config.SkipDocSync &&
				req.DeliveryID == nil
		})
		mockGate.On("Allow", mock.Anything, manual).Return(nil)
		mockService.On("ExecuteRun", mock.Anything, manual).
			Return(&service.RunResult{Run: r, Stages: []service.StageReport{}}, nil)

		e := newTestEcho()
		body := `{
			"repositoryId": "acme/api",
			"trigger": "webhook",
			"triggerMetadata": {"prSha": "abc", "files": [{"path": "a.ts", "content": "x"}]},
			"config": {"skipDocSync": true}
		}`
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewRunHandler(mockService, new(MockIntentLister), mockGate)

		// act
		err := h.PostRun(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusCreated, rec.Code)
		var result service.RunResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, r.RunID, result.Run.RunID)
		mockService.AssertExpectations(t)
		mockGate.AssertExpectations(t)
	})
	t.Run("failure - repository is required", func(t *testing.T) {
		// arrange
		mockService := new(MockRunService)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewRunHandler(mockService, new(MockIntentLister), new(MockRunGate))

		// act
		err := h.PostRun(c)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusBadRequest, he.Code)
		mockService.AssertNotCalled(t, "ExecuteRun", mock.Anything, mock.Anything)
	})
	t.Run("failure - repository is not entitled", func(t *testing.T) {
		// arrange
		mockService := new(MockRunService)
		mockGate := new(MockRunGate)
		mockGate.On("Allow", mock.Anything, mock.Anything).
			Return(service.ErrRunNotEntitled{RepositoryID: "acme/api", Limit: 10})
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"repositoryId": "acme/api"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewRunHandler(mockService, new(MockIntentLister), mockGate)

		// act
		err := h.PostRun(c)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusPaymentRequired, he.Code)
		mockService.AssertNotCalled(t, "ExecuteRun", mock.Anything, mock.Anything)
	})
	t.Run("failure - execution error", func(t *testing.T) {
		// arrange
		mockService := new(MockRunService)
		mockGate := new(MockRunGate)
		mockGate.On("Allow", mock.Anything, mock.Anything).Return(nil)
		mockService.On("ExecuteRun", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"repositoryId": "acme/api"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewRunHandler(mockService, new(MockIntentLister), mockGate)

		// act
		err := h.PostRun(c)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusInternalServerError, he.Code)
	})
}

func TestRunHandler_PostSandboxRun(t *testing.T) {
	t.Run("success - sandbox run is created", func(t *testing.T) {
		// arrange
		r := generateRun()
		r.Trigger = store.TriggerSandbox
		mockService := new(MockRunService)
		mockService.On("CreateSandboxRun", mock.Anything).Return(&service.RunResult{Run: r}, nil)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodPost, "/api/runs/sandbox", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewRunHandler(mockService, new(MockIntentLister), new(MockRunGate))

		// act
		err := h.PostSandboxRun(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"trigger":"sandbox"`)
	})
}

func TestRunHandler_GetRuns(t *testing.T) {
	testcases := []struct {
		name           string
		query          string
		expectedLimit  int64
		expectedOffset int64
	}{
		{name: "defaults", query: "", expectedLimit: 20, expectedOffset: 0},
		{name: "explicit paging", query: "?limit=5&offset=10", expectedLimit: 5, expectedOffset: 10},
		{name: "limit is capped", query: "?limit=1000", expectedLimit: internal.MaxRunsPerPage, expectedOffset: 0},
		{name: "negative offset", query: "?offset=-3", expectedLimit: 20, expectedOffset: 0},
	}
	for _, tc := range testcases {
		t.Run("success - "+tc.name, func(t *testing.T) {
			// arrange
			mockService := new(MockRunService)
			mockService.On("ListRuns", mock.Anything, tc.expectedLimit, tc.expectedOffset).
				Return([]store.Run{*generateRun()}, nil)
			e := newTestEcho()
			req := httptest.NewRequest(http.MethodGet, "/api/runs"+tc.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			h := NewRunHandler(mockService, new(MockIntentLister), new(MockRunGate))

			// act
			err := h.GetRuns(c)

			// assert
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestRunHandler_GetRun(t *testing.T) {
	t.Run("success - run is found", func(t *testing.T) {
		// arrange
		r := generateRun()
		mockService := new(MockRunService)
		mockService.On("GetRunByID", mock.Anything, r.RunID).Return(r, nil)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+r.RunID, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues(r.RunID)
		h := NewRunHandler(mockService, new(MockIntentLister), new(MockRunGate))

		// act
		err := h.GetRun(c)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, rec.Body.String(), r.CorrelationID)
	})
	t.Run("failure - run is not found", func(t *testing.T) {
		// arrange
		mockService := new(MockRunService)
		mockService.On("GetRunByID", mock.Anything, "missing").Return(nil, sql.ErrNoRows)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues("missing")
		h := NewRunHandler(mockService, new(MockIntentLister), new(MockRunGate))

		// act
		err := h.GetRun(c)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusNotFound, he.Code)
	})
}

func TestRunHandler_GetRunIntents(t *testing.T) {
	t.Run("success - intents are listed", func(t *testing.T) {
		// arrange
		r := generateRun()
		mockService := new(MockRunService)
		mockService.On("GetRunByID", mock.Anything, r.RunID).Return(r, nil)
		mockLister := new(MockIntentLister)
		mockLister.On("ListRunIntents", mock.Anything, r.RunID).Return([]store.OutboxIntent{
			{IntentID: "intent-1", RunID: r.RunID, Kind: store.IntentPRComment, Status: store.IntentPending},
		}, nil)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodGet, "/api/runs/"+r.RunID+"/intents", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues(r.RunID)
		h := NewRunHandler(mockService, mockLister, new(MockRunGate))

		// act
		err := h.GetRunIntents(c)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, rec.Body.String(), `"kind":"pr_comment"`)
	})
	t.Run("failure - run is not found", func(t *testing.T) {
		// arrange
		mockService := new(MockRunService)
		mockService.On("GetRunByID", mock.Anything, "missing").Return(nil, sql.ErrNoRows)
		mockLister := new(MockIntentLister)
		e := newTestEcho()
		req := httptest.NewRequest(http.MethodGet, "/api/runs/missing/intents", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues("missing")
		h := NewRunHandler(mockService, mockLister, new(MockRunGate))

		// act
		err := h.GetRunIntents(c)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusNotFound, he.Code)
		mockLister.AssertNotCalled(t, "ListRunIntents", mock.Anything, mock.Anything)
	})
}

func TestSetupRunRoutes(t *testing.T) {
	t.Run("failure - run routes require an api key", func(t *testing.T) {
		// arrange
		e := newTestEcho()
		mockKeys := new(MockAPIKeyService)
		mockKeys.On("ValidAPIKey", mock.Anything, "").Return(false, nil)
		SetupRunRoutes(e.Group(""), new(MockRunService), new(MockIntentLister), new(MockRunGate), mockKeys)
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		rec := httptest.NewRecorder()

		// act
		e.ServeHTTP(rec, req)

		// assert
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message": "invalid api key"}`, rec.Body.String())
	})
	t.Run("success - sandbox route is public", func(t *testing.T) {
		// arrange
		e := newTestEcho()
		mockService := new(MockRunService)
		mockService.On("CreateSandboxRun", mock.Anything).Return(&service.RunResult{Run: generateRun()}, nil)
		SetupRunRoutes(e.Group(""), mockService, new(MockIntentLister), new(MockRunGate), new(MockAPIKeyService))
		req := httptest.NewRequest(http.MethodPost, "/api/runs/sandbox", nil)
		rec := httptest.NewRecorder()

		// act
		e.ServeHTTP(rec, req)

		// assert
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func generateRun() *store.Run {
	repositoryID := "acme/api"
	conclusion := store.ConclusionSuccess
	passed := true
	now := time.Now().UTC()
	return &store.Run{
		RunID:             uuid.NewString(),
		CorrelationID:     "run_20250102T150405_1a2b3c4d",
		RepositoryID:      &repositoryID,
		Trigger:           store.TriggerManual,
		Status:            store.StatusCompleted,
		Conclusion:        &conclusion,
		ReviewGuardStatus: store.StageSucceeded,
		TestEngineStatus:  store.StageSucceeded,
		DocSyncStatus:     store.StageSkipped,
		GatesPassed:       &passed,
		GatesFailed:       store.GateFailures{},
		StartedAt:         now,
		CompletedAt:       &now,
	}
}
