package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *storage.SQLHistoryRepo {
	t.Helper()
	repo, err := NewHistoryRepoFromDSN(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(taskID string, status task.TaskState, created time.Time) *storage.HistoryRecord {
	executed := created.Add(-time.Second)
	meta := &task.MetaData{
		UUID:        "uuid-" + taskID,
		TaskID:      taskID,
		Status:      status,
		CreatedAt:   executed,
		ExecutedAt:  &executed,
		CompletedAt: &created,
		Duration:    1000,
		Weight:      1,
		Meta:        []*task.MetaData{{UUID: "child", TaskID: "c", Status: task.StateCompleted, Duration: -1}},
	}
	r := storage.NewHistoryRecord(meta)
	r.CreateTime = created
	return r
}

func TestHistoryRepo_SaveAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := record("job", task.StateCompleted, time.Now())
	require.NoError(t, repo.Save(ctx, r))

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.TaskID, got.TaskID)
	assert.Equal(t, r.TaskUUID, got.TaskUUID)
	assert.Equal(t, task.StateCompleted, got.Status)
	assert.Equal(t, int64(1000), got.Duration)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ExecutedAt)
	require.NotNil(t, got.SettledAt)
	assert.WithinDuration(t, *r.SettledAt, *got.SettledAt, time.Millisecond)
	require.NotNil(t, got.MetaData)
	require.Len(t, got.MetaData.Meta, 1)
	assert.Equal(t, "c", got.MetaData.Meta[0].TaskID)
}

func TestHistoryRepo_SaveOverwrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := record("job", task.StateFailed, time.Now())
	r.Reason = "Execution error in task [job]: boom"
	require.NoError(t, repo.Save(ctx, r))

	r.Status = task.StateCompleted
	r.Reason = ""
	require.NoError(t, repo.Save(ctx, r))

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, got.Status)
	assert.Empty(t, got.Reason)
}

func TestHistoryRepo_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestHistoryRepo_List(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, record("a", task.StateCompleted, base)))
	require.NoError(t, repo.Save(ctx, record("a", task.StateFailed, base.Add(time.Minute))))
	require.NoError(t, repo.Save(ctx, record("b", task.StateCompleted, base.Add(2*time.Minute))))

	byTask, err := repo.ListByTaskID(ctx, "a")
	require.NoError(t, err)
	require.Len(t, byTask, 2)
	assert.Equal(t, task.StateFailed, byTask[0].Status)

	all, err := repo.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].TaskID)

	completed, err := repo.List(ctx, storage.ListOptions{Status: task.StateCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	page, err := repo.List(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, task.StateFailed, page[0].Status)
}

func TestHistoryRepo_SaveRequiresID(t *testing.T) {
	repo := newTestRepo(t)
	assert.Error(t, repo.Save(context.Background(), &storage.HistoryRecord{}))
}

func TestSQLiteDialect_CreateTableSQL(t *testing.T) {
	stmts := NewSQLiteDialect().CreateTableSQL("t", []string{"id {{key}} PRIMARY KEY", "at {{timestamp}}"},
		[]storage.Index{{Name: "idx_t_at", Column: "at"}})
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "id TEXT PRIMARY KEY")
	assert.Contains(t, stmts[0], "at DATETIME")
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx_t_at ON t(at)", stmts[1])
}
