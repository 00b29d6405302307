package ledger

import (
	"context"
	"errors"
	"time"

	"example.com/damdoh/services/traceability/models"
)

// ErrVersionConflict is returned when the version-checked batch update inside
// an append loses a race with a concurrent writer.
var ErrVersionConflict = errors.New("batch version conflict")

// BatchUpdate carries the snapshot mutation an event append performs on its
// batch row. The update only succeeds when the row still has ExpectedVersion.
type BatchUpdate struct {
	Status          string
	CurrentLat      *float64
	CurrentLng      *float64
	CarbonFootprint *float64
	PlantingDate    *time.Time
	LastEventAt     *time.Time
	ExpectedVersion int
	NewVersion      int
}

// BatchFilter narrows batch listings
type BatchFilter struct {
	FarmID string
	Status string
	Limit  int
}

// Store is the persistence interface for the traceability ledger.
// Implementations must keep trace events append-only: an event row is never
// rewritten once stored.
type Store interface {
	// CreateBatch persists a freshly registered batch
	CreateBatch(ctx context.Context, batch *models.Batch) error

	// GetBatch returns a batch by its public id
	GetBatch(ctx context.Context, batchID string) (*models.Batch, error)

	// AppendEvent stores an event and applies the batch update in one
	// transaction. Fails with ErrVersionConflict if the batch row moved.
	AppendEvent(ctx context.Context, event *models.TraceEvent, update BatchUpdate) error

	// History returns all events for a batch ordered ascending by event time
	History(ctx context.Context, batchID string) ([]models.TraceEvent, error)

	// ListBatches returns batch snapshots matching the filter
	ListBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error)

	// UnprocessedEvents returns events not yet picked up by the projection worker
	UnprocessedEvents(ctx context.Context, limit int) ([]models.TraceEvent, error)

	// MarkEventProcessed flags an event as projected
	MarkEventProcessed(ctx context.Context, eventID string) error

	// MarkEventFailed records a projection error against an event
	MarkEventFailed(ctx context.Context, eventID string, reason string) error

	// RecentBatches returns the batches most recently touched by an event,
	// for the reconciliation sweep
	RecentBatches(ctx context.Context, limit int) ([]models.Batch, error)

	// ReplaceSnapshot overwrites the mutable fields of a batch row with a
	// rebuilt snapshot
	ReplaceSnapshot(ctx context.Context, batch *models.Batch) error
}
