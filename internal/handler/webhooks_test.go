package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haatos/readycheck/internal/logging"
	"github.com/haatos/readycheck/internal/service"
	"github.com/haatos/readycheck/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testWebhookSecret = []byte("webhook-secret")

type MockRunEnqueuer struct {
	mock.Mock
}

func (m *MockRunEnqueuer) Enqueue(job service.WebhookJob) error {
	args := m.Called(job)
	return args.Error(0)
}

type MockDeliveryLookup struct {
	mock.Mock
}

func (m *MockDeliveryLookup) GetRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error) {
	args := m.Called(ctx, deliveryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func pullRequestPayload(action, owner string) []byte {
	return fmt.Appendf(nil, `{
		"action": %q,
		"number": 42,
		"pull_request": {
			"number": 42,
			"title": "Add billing endpoint",
			"head": {"sha": "headsha"},
			"base": {"sha": "basesha"}
		},
		"repository": {"name": "api", "owner": {"login": %q}},
		"organization": {"login": "acme"},
		"sender": {"login": "octocat"}
	}`, action, owner)
}

func signedWebhookRequest(event, deliveryID string, payload []byte, secret []byte) *http.Request {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

type webhookFixture struct {
	deliveries *MockDeliveryLookup
	gate       *MockRunGate
	queue      *MockRunEnqueuer
	handler    *WebhookHandler
}

func newWebhookFixture() webhookFixture {
	logger, _ := logging.NewObservedLogger()
	f := webhookFixture{
		deliveries: new(MockDeliveryLookup),
		gate:       new(MockRunGate),
		queue:      new(MockRunEnqueuer),
	}
	f.handler = NewWebhookHandler(f.deliveries, f.gate, f.queue, testWebhookSecret, logger)
	return f
}

func (f webhookFixture) serve(req *http.Request) (*httptest.ResponseRecorder, error) {
	rec := httptest.NewRecorder()
	c := newTestEcho().NewContext(req, rec)
	return rec, f.handler.PostGitHubWebhook(c)
}

func TestWebhookHandler_PostGitHubWebhook(t *testing.T) {
	t.Run("success - opened pull request is queued", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(nil, sql.ErrNoRows)
		f.gate.On("Allow", mock.Anything, mock.Anything).Return(nil)
		f.queue.On("Enqueue", mock.MatchedBy(func(job service.WebhookJob) bool {
			req := job.Request
			return *req.RepositoryID == "acme/api" &&
				*req.DeliveryID == "delivery-1" &&
				*req.OrganizationID == "acme" &&
				req.Trigger == store.TriggerWebhook &&
				req.Metadata.PRNumber == 42 &&
				req.Metadata.PRSha == "headsha" &&
				req.Metadata.UserID == "octocat" &&
				job.PullRequest == service.PullRequestRef{
					Owner: "acme", Repo: "api", Number: 42, HeadSHA: "headsha", BaseSHA: "basesha",
				}
		})).Return(nil)
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		rec, err := f.serve(req)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"status": "queued"}`, rec.Body.String())
		f.queue.AssertExpectations(t)
	})
	t.Run("success - redelivered event returns the existing run", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(&store.Run{RunID: "run-1"}, nil)
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("synchronize", "acme"), testWebhookSecret)

		// act
		rec, err := f.serve(req)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status": "duplicate", "runId": "run-1"}`, rec.Body.String())
		f.queue.AssertNotCalled(t, "Enqueue", mock.Anything)
	})
	t.Run("success - closed action is ignored", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("closed", "acme"), testWebhookSecret)

		// act
		rec, err := f.serve(req)

		// assert
		assert.NoError(t, err)
		assert.JSONEq(t, `{"status": "ignored"}`, rec.Body.String())
		f.deliveries.AssertNotCalled(t, "GetRunByDeliveryID", mock.Anything, mock.Anything)
	})
	t.Run("success - other event types are ignored", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		req := signedWebhookRequest("ping", "delivery-1", []byte(`{"zen": "Keep it simple."}`), testWebhookSecret)

		// act
		rec, err := f.serve(req)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status": "ignored"}`, rec.Body.String())
	})
	t.Run("failure - bad signature", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), []byte("wrong"))

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})
	t.Run("failure - invalid repository owner", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "../acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})
	t.Run("failure - missing delivery id", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		req := signedWebhookRequest("pull_request", "", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})
	t.Run("failure - repository is not entitled", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(nil, sql.ErrNoRows)
		f.gate.On("Allow", mock.Anything, mock.Anything).
			Return(service.ErrRunNotEntitled{RepositoryID: "acme/api", Limit: 1})
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusPaymentRequired, he.Code)
		f.queue.AssertNotCalled(t, "Enqueue", mock.Anything)
	})
	t.Run("failure - queue is full", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(nil, sql.ErrNoRows)
		f.gate.On("Allow", mock.Anything, mock.Anything).Return(nil)
		f.queue.On("Enqueue", mock.Anything).Return(service.NewErrRunQueueFull())
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusTooManyRequests, he.Code)
	})
	t.Run("failure - queue is closed", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(nil, sql.ErrNoRows)
		f.gate.On("Allow", mock.Anything, mock.Anything).Return(nil)
		f.queue.On("Enqueue", mock.Anything).Return(service.ErrRunQueueClosed)
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusServiceUnavailable, he.Code)
	})
	t.Run("failure - delivery lookup error", func(t *testing.T) {
		// arrange
		f := newWebhookFixture()
		f.deliveries.On("GetRunByDeliveryID", mock.Anything, "delivery-1").Return(nil, errors.New("db down"))
		req := signedWebhookRequest("pull_request", "delivery-1", pullRequestPayload("opened", "acme"), testWebhookSecret)

		// act
		_, err := f.serve(req)

		// assert
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusInternalServerError, he.Code)
	})
}
