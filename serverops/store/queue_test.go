package store_test

import (
	"testing"
	"time"

	"github.com/js402/ollamagate/libs/libdb"
	"github.com/js402/ollamagate/serverops/store"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndGetPending(t *testing.T) {
	ctx, s := store.SetupStore(t)

	entry := &store.QueueEntry{
		Model:       "llama2:7b",
		Kind:        store.KindOllama,
		RequesterIP: "10.0.0.1",
	}
	require.NoError(t, s.EnqueueModel(ctx, entry))
	require.NotZero(t, entry.ID)
	require.Equal(t, store.StatusPending, entry.Status)

	got, err := s.GetPendingByModel(ctx, "llama2:7b", store.KindOllama)
	require.NoError(t, err)
	require.Equal(t, entry.ID, got.ID)
	require.Equal(t, "10.0.0.1", got.RequesterIP)

	// Same model under a different kind is a distinct pending slot.
	_, err = s.GetPendingByModel(ctx, "llama2:7b", store.KindHuggingFace)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}

func TestClaimNextPendingIsFIFO(t *testing.T) {
	ctx, s := store.SetupStore(t)

	first := &store.QueueEntry{Model: "first:7b", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, first))
	time.Sleep(10 * time.Millisecond) // Ensure ordering by created_at.
	second := &store.QueueEntry{Model: "second:7b", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, second))

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, store.StatusDownloading, claimed.Status)

	claimed2, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, claimed2.ID)

	// Queue is drained now.
	_, err = s.ClaimNextPending(ctx)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}

func TestSetQueueStatus(t *testing.T) {
	ctx, s := store.SetupStore(t)

	entry := &store.QueueEntry{Model: "m:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, entry))

	require.NoError(t, s.SetQueueStatus(ctx, entry.ID, store.StatusFailed, "conversion exploded"))
	recent, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, store.StatusFailed, recent[0].Status)
	require.Equal(t, "conversion exploded", recent[0].Error)

	require.ErrorIs(t, s.SetQueueStatus(ctx, entry.ID+99, store.StatusFailed, ""), libdb.ErrNotFound)
}

func TestDeletePendingOnlyRemovesPending(t *testing.T) {
	ctx, s := store.SetupStore(t)

	entry := &store.QueueEntry{Model: "busy:7b", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, entry))

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, entry.ID, claimed.ID)

	removed, err := s.DeletePendingByModel(ctx, "busy:7b")
	require.NoError(t, err)
	require.Zero(t, removed)

	require.NoError(t, s.SetQueueStatus(ctx, entry.ID, store.StatusCompleted, ""))
	removed, err = s.DeletePendingByModel(ctx, "busy:7b")
	require.NoError(t, err)
	require.Zero(t, removed)

	fresh := &store.QueueEntry{Model: "busy:7b", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, fresh))
	removed, err = s.DeletePendingByModel(ctx, "busy:7b")
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestResetOrphanedDownloads(t *testing.T) {
	ctx, s := store.SetupStore(t)

	for _, model := range []string{"a:1", "b:1", "c:1"} {
		require.NoError(t, s.EnqueueModel(ctx, &store.QueueEntry{Model: model, RequesterIP: "10.0.0.1"}))
	}
	_, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(ctx)
	require.NoError(t, err)

	reset, err := s.ResetOrphanedDownloads(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, reset)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, counts.Pending)
	require.Zero(t, counts.Downloading)

	// Idempotent: a second run has nothing left to reset.
	reset, err = s.ResetOrphanedDownloads(ctx)
	require.NoError(t, err)
	require.Zero(t, reset)
}

func TestSweepExpired(t *testing.T) {
	ctx, s := store.SetupStore(t)

	old := &store.QueueEntry{Model: "old:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, old))
	require.NoError(t, s.SetQueueStatus(ctx, old.ID, store.StatusCompleted, ""))

	fresh := &store.QueueEntry{Model: "fresh:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, fresh))
	require.NoError(t, s.SetQueueStatus(ctx, fresh.ID, store.StatusFailed, "boom"))

	stillPending := &store.QueueEntry{Model: "pending:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, stillPending))

	// A cutoff a minute ahead expires both terminal rows; the pending row is
	// never swept.
	swept, err := s.SweepExpired(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, swept)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
	require.Zero(t, counts.Completed)
	require.Zero(t, counts.Failed)
}

func TestListPendingModelsIsDistinct(t *testing.T) {
	ctx, s := store.SetupStore(t)

	require.NoError(t, s.EnqueueModel(ctx, &store.QueueEntry{Model: "dup:7b", RequesterIP: "10.0.0.1"}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.EnqueueModel(ctx, &store.QueueEntry{Model: "dup:7b", Kind: store.KindHuggingFace, RequesterIP: "10.0.0.2"}))
	require.NoError(t, s.EnqueueModel(ctx, &store.QueueEntry{Model: "solo:3b", RequesterIP: "10.0.0.1"}))

	pending, err := s.ListPendingModels(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "dup:7b", pending[0].Model)
	require.Equal(t, "solo:3b", pending[1].Model)
}

func TestListActiveAndRecentOrdering(t *testing.T) {
	ctx, s := store.SetupStore(t)

	a := &store.QueueEntry{Model: "a:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, a))
	time.Sleep(10 * time.Millisecond)
	b := &store.QueueEntry{Model: "b:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, b))
	time.Sleep(10 * time.Millisecond)
	c := &store.QueueEntry{Model: "c:1", RequesterIP: "10.0.0.1"}
	require.NoError(t, s.EnqueueModel(ctx, c))

	require.NoError(t, s.SetQueueStatus(ctx, a.ID, store.StatusCompleted, ""))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SetQueueStatus(ctx, b.ID, store.StatusFailed, "gone"))

	active, err := s.ListActive(ctx, 50)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, c.ID, active[0].ID)

	recent, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Most recently updated first.
	require.Equal(t, b.ID, recent[0].ID)
	require.Equal(t, a.ID, recent[1].ID)
}
