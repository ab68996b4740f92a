package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	runID := uuid.NewString()

	require.NoError(t, store.BeginRun(ctx, runID, "parallel", time.Now()))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "parallel", runs[0].Mode)
	assert.Empty(t, runs[0].Outcome)
	assert.Nil(t, runs[0].FinishedAt)

	require.NoError(t, store.FinishRun(ctx, runID, "COMPLETE", 3, 7))

	runs, err = store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "COMPLETE", runs[0].Outcome)
	assert.Equal(t, 3, runs[0].Waves)
	assert.Equal(t, 7, runs[0].Spawns)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestProgressAndFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	runID := uuid.NewString()
	require.NoError(t, store.BeginRun(ctx, runID, "sequential", time.Now()))

	require.NoError(t, store.AppendProgress(ctx, ProgressRecord{
		RunID: runID, Wave: 1, TaskID: "schema", Outcome: "passed", Files: "db/schema.sql",
	}))
	require.NoError(t, store.AppendProgress(ctx, ProgressRecord{
		RunID: runID, Wave: 2, TaskID: "api", Outcome: "passed",
	}))
	require.NoError(t, store.AppendFailure(ctx, FailureRecord{
		RunID: runID, TaskID: "api", Phase: "merge_conflict", Message: "conflict in routes.go",
	}))

	progress, err := store.RunProgress(ctx, runID)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, "schema", progress[0].TaskID)
	assert.Equal(t, "db/schema.sql", progress[0].Files)
	assert.Equal(t, 2, progress[1].Wave)

	failures, err := store.RunFailures(ctx, runID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "merge_conflict", failures[0].Phase)
}

func TestListRunsOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older := uuid.NewString()
	newer := uuid.NewString()
	require.NoError(t, store.BeginRun(ctx, older, "sequential", time.Now().Add(-time.Hour)))
	require.NoError(t, store.BeginRun(ctx, newer, "parallel", time.Now()))

	runs, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, newer, runs[0].ID)
}
