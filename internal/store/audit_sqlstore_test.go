package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type auditSQLStoreSuite struct {
	runStore   *RunSQLStore
	auditStore *AuditSQLStore
	suite.Suite
}

func TestAuditSQLStore(t *testing.T) {
	suite.Run(t, new(auditSQLStoreSuite))
}

func (suite *auditSQLStoreSuite) SetupSuite() {
	suite.runStore = NewRunSQLStore(testDB, testDB)
	suite.auditStore = NewAuditSQLStore(testDB, testDB)
}

func (suite *auditSQLStoreSuite) TestAuditSQLStore_CreateAuditLog() {
	suite.Run("success - audit log created and listed by run", func() {
		// arrange
		r := createRun(suite.T(), suite.runStore)
		entry := AuditLog{
			Action:       "run.completed",
			ResourceType: "run",
			ResourceID:   r.RunID,
			Details:      `{"conclusion":"success"}`,
			RunID:        &r.RunID,
			CreatedAt:    time.Now().UTC(),
		}

		// act
		created, err := suite.auditStore.CreateAuditLog(context.Background(), entry)
		logs, listErr := suite.auditStore.ListRunAuditLogs(context.Background(), r.RunID)

		// assert
		suite.NoError(err)
		suite.NoError(listErr)
		suite.NotZero(created.AuditLogID)
		suite.Len(logs, 1)
		suite.Equal(created.AuditLogID, logs[0].AuditLogID)
		suite.Equal("run.completed", logs[0].Action)
		suite.JSONEq(entry.Details, logs[0].Details)
		suite.Nil(logs[0].OrganizationID)
	})
}
