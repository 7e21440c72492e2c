package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type runSQLStoreSuite struct {
	runStore *RunSQLStore
	suite.Suite
}

func TestRunSQLStore(t *testing.T) {
	suite.Run(t, new(runSQLStoreSuite))
}

func (suite *runSQLStoreSuite) SetupSuite() {
	suite.runStore = NewRunSQLStore(testDB, testDB)
}

func (suite *runSQLStoreSuite) TestRunSQLStore_CreateRun() {
	suite.Run("success - run created", func() {
		// arrange
		params := newCreateRunParams("acme/api")

		// act
		r, err := suite.runStore.CreateRun(context.Background(), params)

		// assert
		suite.NoError(err)
		suite.NotNil(r)
		suite.Equal(params.RunID, r.RunID)
		suite.Equal(StatusRunning, r.Status)
		suite.Equal(StageSkipped, r.DocSyncStatus)
		suite.Nil(r.GatesPassed)
		suite.NotNil(r.GatesFailed)
	})
	suite.Run("failure - duplicate delivery id", func() {
		// arrange
		deliveryID := "delivery-dup"
		first := newCreateRunParams("acme/api")
		first.DeliveryID = &deliveryID
		second := newCreateRunParams("acme/api")
		second.DeliveryID = &deliveryID
		_, err := suite.runStore.CreateRun(context.Background(), first)
		suite.NoError(err)

		// act
		r, err := suite.runStore.CreateRun(context.Background(), second)

		// assert
		suite.Error(err)
		suite.True(IsUniqueConstraintError(err))
		suite.Nil(r)
	})
}

func (suite *runSQLStoreSuite) TestRunSQLStore_ReadRunByID() {
	suite.Run("success - run is found", func() {
		// arrange
		expectedRun := createRun(suite.T(), suite.runStore)

		// act
		r, err := suite.runStore.ReadRunByID(context.Background(), expectedRun.RunID)

		// assert
		suite.NoError(err)
		suite.NotNil(r)
		suite.Equal(expectedRun.CorrelationID, r.CorrelationID)
		suite.Equal(*expectedRun.RepositoryID, *r.RepositoryID)
		suite.Equal(TriggerManual, r.Trigger)
		suite.WithinDuration(expectedRun.StartedAt, r.StartedAt, time.Millisecond)
		suite.Nil(r.ReviewGuardResult)
		suite.Empty(r.AITouchedFiles)
	})
	suite.Run("failure - run is not found", func() {
		// act
		r, err := suite.runStore.ReadRunByID(context.Background(), "missing")

		// assert
		suite.Error(err)
		suite.True(errors.Is(err, sql.ErrNoRows))
		suite.Nil(r)
	})
}

func (suite *runSQLStoreSuite) TestRunSQLStore_ReadRunByDeliveryID() {
	suite.Run("success - run is found by delivery id", func() {
		// arrange
		deliveryID := "delivery-found"
		params := newCreateRunParams("acme/api")
		params.DeliveryID = &deliveryID
		params.Trigger = TriggerWebhook
		_, err := suite.runStore.CreateRun(context.Background(), params)
		suite.NoError(err)

		// act
		r, err := suite.runStore.ReadRunByDeliveryID(context.Background(), deliveryID)

		// assert
		suite.NoError(err)
		suite.Equal(params.RunID, r.RunID)
	})
}

func (suite *runSQLStoreSuite) TestRunSQLStore_UpdateRun() {
	suite.Run("success - stage fields update incrementally", func() {
		// arrange
		r := createRun(suite.T(), suite.runStore)
		startedAt := time.Now().UTC()
		running := StageRunning

		// act
		err := suite.runStore.UpdateRun(context.Background(), r.RunID, RunPatch{
			ReviewGuardStatus:    &running,
			ReviewGuardStartedAt: &startedAt,
		})
		read, readErr := suite.runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		suite.NoError(err)
		suite.NoError(readErr)
		suite.Equal(StageRunning, read.ReviewGuardStatus)
		suite.NotNil(read.ReviewGuardStartedAt)
		suite.WithinDuration(startedAt, *read.ReviewGuardStartedAt, time.Millisecond)
		suite.Equal(StagePending, read.TestEngineStatus)
		suite.Equal(StatusRunning, read.Status)
	})
	suite.Run("success - results and gates are stored as json", func() {
		// arrange
		r := createRun(suite.T(), suite.runStore)
		failed := StageFailed
		detected := true
		passed := false
		patch := RunPatch{
			ReviewGuardStatus: &failed,
			ReviewGuardResult: &ReviewGuardResult{
				ReviewID:    "review-1",
				IssuesFound: 2,
				IsBlocked:   true,
				Summary:     SeveritySummary{Total: 2, Critical: 1, Low: 1},
			},
			AITouchedDetected: &detected,
			AITouchedFiles: AITouchedFiles{
				{Path: "src/a.ts", Confidence: 0.9, Methods: []string{"commit-message"}},
			},
			GatesPassed: &passed,
			GatesFailed: GateFailures{{Gate: "review_guard", Reason: "2 issue(s) found"}},
		}

		// act
		err := suite.runStore.UpdateRun(context.Background(), r.RunID, patch)
		read, readErr := suite.runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		suite.NoError(err)
		suite.NoError(readErr)
		suite.Equal(patch.ReviewGuardResult, read.ReviewGuardResult)
		suite.True(read.AITouchedDetected)
		suite.Equal(patch.AITouchedFiles, read.AITouchedFiles)
		suite.NotNil(read.GatesPassed)
		suite.False(*read.GatesPassed)
		suite.Equal(patch.GatesFailed, read.GatesFailed)
		suite.Nil(read.TestEngineResult)
	})
	suite.Run("failure - terminal run is immutable", func() {
		// arrange
		r := createRun(suite.T(), suite.runStore)
		completed := StatusCompleted
		conclusion := ConclusionSuccess
		now := time.Now().UTC()
		suite.NoError(suite.runStore.UpdateRun(context.Background(), r.RunID, RunPatch{
			Status:      &completed,
			Conclusion:  &conclusion,
			CompletedAt: &now,
		}))
		failed := StatusFailed

		// act
		err := suite.runStore.UpdateRun(context.Background(), r.RunID, RunPatch{Status: &failed})
		read, readErr := suite.runStore.ReadRunByID(context.Background(), r.RunID)

		// assert
		suite.ErrorIs(err, ErrRunImmutable)
		suite.NoError(readErr)
		suite.Equal(StatusCompleted, read.Status)
		suite.Equal(ConclusionSuccess, *read.Conclusion)
	})
	suite.Run("failure - run is not found", func() {
		// arrange
		failed := StatusFailed

		// act
		err := suite.runStore.UpdateRun(context.Background(), "missing", RunPatch{Status: &failed})

		// assert
		suite.True(errors.Is(err, sql.ErrNoRows))
	})
}

func (suite *runSQLStoreSuite) TestRunSQLStore_ListRuns() {
	suite.Run("success - runs found", func() {
		// arrange
		expectedRun := createRun(suite.T(), suite.runStore)

		// act
		runs, err := suite.runStore.ListRuns(context.Background(), 1000, 0)

		// assert
		suite.NoError(err)
		suite.True(slices.ContainsFunc(runs, func(r Run) bool {
			return expectedRun.RunID == r.RunID
		}))
	})
}

func (suite *runSQLStoreSuite) TestRunSQLStore_CountRepositoryRunsSince() {
	suite.Run("success - only recent runs of the repository are counted", func() {
		// arrange
		repositoryID := "acme/counted"
		old := newCreateRunParams(repositoryID)
		old.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
		_, err := suite.runStore.CreateRun(context.Background(), old)
		suite.NoError(err)
		for range 2 {
			_, err := suite.runStore.CreateRun(context.Background(), newCreateRunParams(repositoryID))
			suite.NoError(err)
		}
		_, err = suite.runStore.CreateRun(context.Background(), newCreateRunParams("acme/other"))
		suite.NoError(err)

		// act
		count, err := suite.runStore.CountRepositoryRunsSince(
			context.Background(), repositoryID, time.Now().UTC().Add(-24*time.Hour))

		// assert
		suite.NoError(err)
		suite.Equal(int64(2), count)
	})
}
