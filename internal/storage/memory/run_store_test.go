package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-console/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	started := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertRunStart(ctx, store.Run{SessionID: "s-1", ConfigCode: "shop-tv", JobID: 42, TestRun: true, StartedAt: started}))
	require.NoError(t, s.UpsertRunStart(ctx, store.Run{SessionID: "s-2", ConfigCode: "other", JobID: 43, StartedAt: started.Add(time.Minute)}))

	msg := "selector not found"
	require.NoError(t, s.CompleteRun(ctx, "s-1", started.Add(10*time.Second), store.RunFailed, 1, &msg))
	require.NoError(t, s.CompleteRun(ctx, "s-1", started.Add(20*time.Second), store.RunFinished, 0, nil))

	run, err := s.GetRun(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status, "first terminal outcome wins")
	require.Equal(t, 1, run.ErrorCount)
	require.Equal(t, msg, *run.ErrorMessage)

	require.NoError(t, s.AbandonRun(ctx, "s-2", started.Add(2*time.Minute)))
	require.NoError(t, s.AbandonRun(ctx, "s-1", started.Add(2*time.Minute)))
	run, err = s.GetRun(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, run.Status)

	require.NoError(t, s.MarkActivated(ctx, "s-1", started.Add(time.Hour)))
	require.ErrorIs(t, s.MarkActivated(ctx, "missing", started), store.ErrNotFound)
	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Unix(1700000000, 0).UTC()
	for i, code := range []string{"a", "b", "a", "a"} {
		require.NoError(t, s.UpsertRunStart(ctx, store.Run{
			SessionID:  string(rune('0' + i)),
			ConfigCode: code,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.CompleteRun(ctx, "3", base, store.RunFinished, 0, nil))

	runs, err := s.ListRuns(ctx, store.RunFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	require.Equal(t, "3", runs[0].SessionID, "newest first")

	runs, err = s.ListRuns(ctx, store.RunFilter{ConfigCode: "a"}, 1, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "2", runs[0].SessionID)

	running := store.RunRunning
	runs, err = s.ListRuns(ctx, store.RunFilter{ConfigCode: "a", Status: &running}, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, store.RunFilter{}, 10, 99)
	require.NoError(t, err)
	require.NotNil(t, runs)
	require.Empty(t, runs)
}
