package runstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndCompleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().Truncate(time.Second)
	require.NoError(t, store.CreateRun(ctx, RunRecord{
		ID: "r1", Trigger: "webhook", Status: "running", CommitSHA: "abc123", StartedAt: started,
	}))

	require.NoError(t, store.CompleteRun(ctx, "r1", "failed", "build (fatal): site generation failed",
		started.Add(time.Minute), time.Minute))

	run, steps, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "webhook", run.Trigger)
	assert.Equal(t, "abc123", run.CommitSHA)
	assert.Contains(t, run.Error, "site generation failed")
	assert.Equal(t, time.Minute.Milliseconds(), run.DurationMS)
	assert.Empty(t, steps)
}

func TestStore_CompleteUnknownRun(t *testing.T) {
	store := newTestStore(t)
	err := store.CompleteRun(context.Background(), "ghost", "success", "", time.Now(), time.Second)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordAndFetchSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, RunRecord{ID: "r1", Trigger: "manual", Status: "running", StartedAt: time.Now()}))

	require.NoError(t, store.RecordStep(ctx, StepRecord{
		RunID: "r1", Stage: "install", Step: "bundle install", Status: "success", ExitCode: 0, Output: "ok", DurationMS: 1200,
	}))
	require.NoError(t, store.RecordStep(ctx, StepRecord{
		RunID: "r1", Stage: "build", Step: "jekyll build", Status: "failed", ExitCode: 1, Output: "boom", DurationMS: 800,
	}))

	_, steps, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	// Insertion order preserved.
	assert.Equal(t, "install", steps[0].Stage)
	assert.Equal(t, "build", steps[1].Stage)
	assert.Equal(t, 1, steps[1].ExitCode)
	assert.Equal(t, "boom", steps[1].Output)
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateRun(ctx, RunRecord{
			ID:        fmt.Sprintf("r%d", i),
			Trigger:   "scheduled",
			Status:    "success",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r3", runs[1].ID)
	assert.Equal(t, "r2", runs[2].ID)
}

func TestStore_PruneKeepsNewestAndActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreateRun(ctx, RunRecord{
			ID:        fmt.Sprintf("done%d", i),
			Trigger:   "webhook",
			Status:    "success",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, store.RecordStep(ctx, StepRecord{
			RunID: fmt.Sprintf("done%d", i), Stage: "build", Step: "jekyll build", Status: "success",
		}))
	}
	// A running job older than everything must survive pruning.
	require.NoError(t, store.CreateRun(ctx, RunRecord{
		ID: "active", Trigger: "webhook", Status: "running", StartedAt: base.Add(-time.Hour),
	}))

	require.NoError(t, store.Prune(ctx, 2))

	runs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"done3", "done2", "active"}, ids)

	// Steps of pruned runs are gone too.
	_, steps, err := store.GetRun(ctx, "done3")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
	_, _, err = store.GetRun(ctx, "done0")
	assert.ErrorIs(t, err, ErrNotFound)
}
