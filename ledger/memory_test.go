package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/models"
)

func seedBatch(t *testing.T, store *Memory, batchID string) *models.Batch {
	t.Helper()

	batch := &models.Batch{
		BatchID:         batchID,
		Version:         1,
		ProductID:       "maize-1",
		InitialQuantity: 500,
		Unit:            "kg",
		FarmID:          "farm-7",
		Status:          domain.StatusRegistered,
	}
	require.NoError(t, store.CreateBatch(context.Background(), batch))
	return batch
}

func appendAt(t *testing.T, store *Memory, batchID, eventID string, eventTime time.Time, expectedVersion int) {
	t.Helper()

	event := &models.TraceEvent{
		EventID:         eventID,
		BatchID:         batchID,
		EventType:       domain.EventHarvest,
		StakeholderID:   "farmer-1",
		StakeholderType: "Farmer",
		EventTime:       eventTime,
	}
	update := BatchUpdate{
		Status:          domain.StatusHarvested,
		LastEventAt:     &eventTime,
		ExpectedVersion: expectedVersion,
		NewVersion:      expectedVersion + 1,
	}
	require.NoError(t, store.AppendEvent(context.Background(), event, update))
}

func TestMemoryCreateBatchRejectsDuplicateID(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")

	err := store.CreateBatch(context.Background(), &models.Batch{BatchID: "batch-1", Version: 1})

	require.Error(t, err)
	require.True(t, domain.IsValidation(err))
}

func TestMemoryGetBatchNotFound(t *testing.T) {
	store := NewMemory()

	_, err := store.GetBatch(context.Background(), "missing")

	require.Error(t, err)
	require.True(t, domain.IsNotFound(err))
}

func TestMemoryAppendEventUnknownBatch(t *testing.T) {
	store := NewMemory()

	event := &models.TraceEvent{EventID: "evt-1", BatchID: "missing", EventTime: time.Now()}
	err := store.AppendEvent(context.Background(), event, BatchUpdate{ExpectedVersion: 1, NewVersion: 2})

	require.Error(t, err)
	require.True(t, domain.IsNotFound(err))
}

func TestMemoryAppendEventVersionConflict(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")
	appendAt(t, store, "batch-1", "evt-1", time.Now(), 1)

	// A second writer still holding version 1 must lose the race
	event := &models.TraceEvent{EventID: "evt-2", BatchID: "batch-1", EventTime: time.Now()}
	err := store.AppendEvent(context.Background(), event, BatchUpdate{ExpectedVersion: 1, NewVersion: 2})

	require.ErrorIs(t, err, ErrVersionConflict)

	history, err := store.History(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMemoryAppendEventAdvancesSnapshot(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")
	appendAt(t, store, "batch-1", "evt-1", time.Now(), 1)

	batch, err := store.GetBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, 2, batch.Version)
	require.Equal(t, domain.StatusHarvested, batch.Status)
	require.NotNil(t, batch.LastEventAt)
}

func TestMemoryHistoryOrderedByEventTime(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Inserted out of chronological order
	appendAt(t, store, "batch-1", "evt-late", base.Add(2*time.Hour), 1)
	appendAt(t, store, "batch-1", "evt-early", base, 2)

	history, err := store.History(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "evt-early", history[0].EventID)
	require.Equal(t, "evt-late", history[1].EventID)
}

func TestMemoryHistoryTieBreaksOnInsertionOrder(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	appendAt(t, store, "batch-1", "evt-1", at, 1)
	appendAt(t, store, "batch-1", "evt-2", at, 2)

	history, err := store.History(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "evt-1", history[0].EventID)
	require.Equal(t, "evt-2", history[1].EventID)
}

func TestMemoryHistoryIsolatesBatches(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")
	seedBatch(t, store, "batch-2")
	appendAt(t, store, "batch-1", "evt-1", time.Now(), 1)

	history, err := store.History(context.Background(), "batch-2")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestMemoryListBatchesFilters(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")

	other := &models.Batch{
		BatchID: "batch-2",
		Version: 1,
		FarmID:  "farm-9",
		Status:  domain.StatusRegistered,
	}
	require.NoError(t, store.CreateBatch(context.Background(), other))

	batches, err := store.ListBatches(context.Background(), BatchFilter{FarmID: "farm-7"})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "batch-1", batches[0].BatchID)

	batches, err = store.ListBatches(context.Background(), BatchFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestMemoryProjectionBookkeeping(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")
	appendAt(t, store, "batch-1", "evt-1", time.Now(), 1)
	appendAt(t, store, "batch-1", "evt-2", time.Now(), 2)

	pending, err := store.UnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.MarkEventProcessed(context.Background(), "evt-1"))
	require.NoError(t, store.MarkEventFailed(context.Background(), "evt-2", "index unavailable"))

	pending, err = store.UnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "evt-2", pending[0].EventID)
}

func TestMemoryRecentBatches(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")
	seedBatch(t, store, "batch-2")
	seedBatch(t, store, "batch-idle")

	appendAt(t, store, "batch-1", "evt-1", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), 1)
	appendAt(t, store, "batch-2", "evt-2", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), 1)

	recent, err := store.RecentBatches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "batch-2", recent[0].BatchID)
	require.Equal(t, "batch-1", recent[1].BatchID)
}

func TestMemoryReplaceSnapshot(t *testing.T) {
	store := NewMemory()
	seedBatch(t, store, "batch-1")

	carbon := 12.5
	err := store.ReplaceSnapshot(context.Background(), &models.Batch{
		BatchID:         "batch-1",
		Version:         3,
		Status:          domain.StatusProcessed,
		CarbonFootprint: &carbon,
	})
	require.NoError(t, err)

	batch, err := store.GetBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, 3, batch.Version)
	require.Equal(t, domain.StatusProcessed, batch.Status)
	require.NotNil(t, batch.CarbonFootprint)
	require.Equal(t, 12.5, *batch.CarbonFootprint)
}
