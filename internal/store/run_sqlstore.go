package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// RunSQLStore persists runs. The queries are shared by the sqlite and
// postgres dialects.
type RunSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLStore(rdb, rwdb *sql.DB) *RunSQLStore {
	return &RunSQLStore{rdb, rwdb}
}

func (store *RunSQLStore) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	r := params.Run()
	query := `insert into runs (
		run_id,
		correlation_id,
		repository_id,
		sandbox_id,
		run_trigger,
		delivery_id,
		status,
		review_guard_status,
		test_engine_status,
		doc_sync_status,
		ai_touched_files,
		gates_failed,
		started_at
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := store.rwdb.ExecContext(
		ctx, query,
		r.RunID,
		r.CorrelationID,
		r.RepositoryID,
		r.SandboxID,
		r.Trigger,
		r.DeliveryID,
		r.Status,
		r.ReviewGuardStatus,
		r.TestEngineStatus,
		r.DocSyncStatus,
		r.AITouchedFiles,
		r.GatesFailed,
		r.StartedAt,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLStore) ReadRunByID(ctx context.Context, id string) (*Run, error) {
	r := new(Run)
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLStore) ReadRunByDeliveryID(ctx context.Context, deliveryID string) (*Run, error) {
	r := new(Run)
	query := "select * from runs where delivery_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, deliveryID); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRun writes the set fields of patch. Runs that already reached a
// terminal status are rejected with ErrRunImmutable.
func (store *RunSQLStore) UpdateRun(ctx context.Context, id string, patch RunPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}

	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+4)
	for i, c := range cols {
		assignments[i] = fmt.Sprintf("%s = $%d", c.column, i+1)
		args = append(args, c.value)
	}
	n := len(cols)
	query := fmt.Sprintf(`update runs
	set %s
	where run_id = $%d
	and status not in ($%d, $%d, $%d)`,
		strings.Join(assignments, ",\n\t\t"), n+1, n+2, n+3, n+4,
	)
	args = append(args, id, StatusCompleted, StatusFailed, StatusCancelled)

	res, err := store.rwdb.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := store.ReadRunByID(ctx, id); err != nil {
			return err
		}
		return ErrRunImmutable
	}
	return nil
}

func (store *RunSQLStore) DeleteRun(ctx context.Context, id string) error {
	query := "delete from runs where run_id = $1"
	_, err := store.rwdb.ExecContext(ctx, query, id)
	return err
}

func (store *RunSQLStore) ListRuns(ctx context.Context, limit, offset int64) ([]Run, error) {
	query := `select * from runs
	order by started_at desc limit $1 offset $2`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, limit, offset)
	return runs, err
}

func (store *RunSQLStore) CountRepositoryRunsSince(
	ctx context.Context,
	repositoryID string,
	since time.Time,
) (int64, error) {
	var count int64
	query := `select count(*) from runs
	where repository_id = $1
	and started_at >= $2`
	err := sqlscan.Get(ctx, store.rdb, &count, query, repositoryID, since)
	return count, err
}
