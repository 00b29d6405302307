package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/models"
)

// Memory is an in-memory Store used in tests and local development. It keeps
// the same append-only and version-check semantics as the GORM store.
type Memory struct {
	mu      sync.RWMutex
	batches map[string]*models.Batch
	events  []*models.TraceEvent
	nextID  uint
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		batches: make(map[string]*models.Batch),
	}
}

// CreateBatch persists a freshly registered batch
func (m *Memory) CreateBatch(ctx context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batch.BatchID]; ok {
		return domain.NewValidationError("batch %q already exists", batch.BatchID)
	}

	m.nextID++
	batch.ID = m.nextID
	now := time.Now()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	stored := *batch
	m.batches[batch.BatchID] = &stored
	return nil
}

// GetBatch returns a batch by its public id
func (m *Memory) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return nil, domain.NewNotFoundError("batch", batchID)
	}

	copied := *batch
	return &copied, nil
}

// AppendEvent stores an event and applies the batch update atomically
func (m *Memory) AppendEvent(ctx context.Context, event *models.TraceEvent, update BatchUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[event.BatchID]
	if !ok {
		return domain.NewNotFoundError("batch", event.BatchID)
	}
	if batch.Version != update.ExpectedVersion {
		return ErrVersionConflict
	}

	m.nextID++
	event.ID = m.nextID
	event.CreatedAt = time.Now()

	stored := *event
	m.events = append(m.events, &stored)

	batch.Version = update.NewVersion
	batch.Status = update.Status
	batch.CurrentLat = update.CurrentLat
	batch.CurrentLng = update.CurrentLng
	batch.CarbonFootprint = update.CarbonFootprint
	batch.PlantingDate = update.PlantingDate
	batch.LastEventAt = update.LastEventAt
	batch.UpdatedAt = time.Now()

	return nil
}

// History returns all events for a batch ordered ascending by event time
func (m *Memory) History(ctx context.Context, batchID string) ([]models.TraceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []models.TraceEvent
	for _, e := range m.events {
		if e.BatchID == batchID {
			events = append(events, *e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].EventTime.Equal(events[j].EventTime) {
			return events[i].ID < events[j].ID
		}
		return events[i].EventTime.Before(events[j].EventTime)
	})

	return events, nil
}

// ListBatches returns batch snapshots matching the filter
func (m *Memory) ListBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var batches []models.Batch
	for _, b := range m.batches {
		if filter.FarmID != "" && b.FarmID != filter.FarmID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		batches = append(batches, *b)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].UpdatedAt.After(batches[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(batches) > filter.Limit {
		batches = batches[:filter.Limit]
	}

	return batches, nil
}

// UnprocessedEvents returns events not yet picked up by the projection worker
func (m *Memory) UnprocessedEvents(ctx context.Context, limit int) ([]models.TraceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []models.TraceEvent
	for _, e := range m.events {
		if !e.Processed {
			events = append(events, *e)
		}
		if limit > 0 && len(events) == limit {
			break
		}
	}

	return events, nil
}

// MarkEventProcessed flags an event as projected
func (m *Memory) MarkEventProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.EventID == eventID {
			e.Processed = true
			e.Error = nil
			return nil
		}
	}

	return domain.NewNotFoundError("event", eventID)
}

// MarkEventFailed records a projection error against an event
func (m *Memory) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.EventID == eventID {
			e.Error = &reason
			return nil
		}
	}

	return domain.NewNotFoundError("event", eventID)
}

// RecentBatches returns the batches most recently touched by an event
func (m *Memory) RecentBatches(ctx context.Context, limit int) ([]models.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var batches []models.Batch
	for _, b := range m.batches {
		if b.LastEventAt != nil {
			batches = append(batches, *b)
		}
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].LastEventAt.After(*batches[j].LastEventAt)
	})

	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}

	return batches, nil
}

// ReplaceSnapshot overwrites the mutable fields of a batch row
func (m *Memory) ReplaceSnapshot(ctx context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.batches[batch.BatchID]
	if !ok {
		return domain.NewNotFoundError("batch", batch.BatchID)
	}

	stored.Version = batch.Version
	stored.Status = batch.Status
	stored.CurrentLat = batch.CurrentLat
	stored.CurrentLng = batch.CurrentLng
	stored.CarbonFootprint = batch.CarbonFootprint
	stored.PlantingDate = batch.PlantingDate
	stored.LastEventAt = batch.LastEventAt
	stored.UpdatedAt = time.Now()

	return nil
}
