package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/models"
)

// GormStore implements Store using GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed ledger store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateBatch persists a freshly registered batch
func (s *GormStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return domain.NewPersistenceError("create batch", err)
	}

	log.Info().
		Str("batchID", batch.BatchID).
		Str("productID", batch.ProductID).
		Msg("Batch registered")

	return nil
}

// GetBatch returns a batch by its public id
func (s *GormStore) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("batch", batchID)
		}
		return nil, domain.NewPersistenceError("get batch", err)
	}

	return &batch, nil
}

// AppendEvent stores an event row and applies the batch snapshot update in a
// single transaction. The snapshot update is version-checked: zero rows
// affected means either the batch vanished or a concurrent append won.
func (s *GormStore) AppendEvent(ctx context.Context, event *models.TraceEvent, update BatchUpdate) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return domain.NewPersistenceError("append event", err)
		}

		res := tx.Model(&models.Batch{}).
			Where("batch_id = ? AND version = ?", event.BatchID, update.ExpectedVersion).
			Updates(map[string]interface{}{
				"version":          update.NewVersion,
				"status":           update.Status,
				"current_lat":      update.CurrentLat,
				"current_lng":      update.CurrentLng,
				"carbon_footprint": update.CarbonFootprint,
				"planting_date":    update.PlantingDate,
				"last_event_at":    update.LastEventAt,
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return domain.NewPersistenceError("update batch snapshot", res.Error)
		}

		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Batch{}).
				Where("batch_id = ?", event.BatchID).
				Count(&count).Error; err != nil {
				return domain.NewPersistenceError("check batch exists", err)
			}
			if count == 0 {
				return domain.NewNotFoundError("batch", event.BatchID)
			}
			return ErrVersionConflict
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("batchID", event.BatchID).
		Str("eventType", event.EventType).
		Str("eventID", event.EventID).
		Msg("Event appended")

	return nil
}

// History returns all events for a batch ordered ascending by event time.
// Insertion order breaks ties so retrieval stays deterministic.
func (s *GormStore) History(ctx context.Context, batchID string) ([]models.TraceEvent, error) {
	var events []models.TraceEvent
	if err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("event_time ASC").
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, domain.NewPersistenceError("load history", err)
	}

	return events, nil
}

// ListBatches returns batch snapshots matching the filter
func (s *GormStore) ListBatches(ctx context.Context, filter BatchFilter) ([]models.Batch, error) {
	query := s.db.WithContext(ctx).Model(&models.Batch{})

	if filter.FarmID != "" {
		query = query.Where("farm_id = ?", filter.FarmID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var batches []models.Batch
	if err := query.Order("updated_at DESC").Find(&batches).Error; err != nil {
		return nil, domain.NewPersistenceError("list batches", err)
	}

	return batches, nil
}

// UnprocessedEvents returns events not yet picked up by the projection worker
func (s *GormStore) UnprocessedEvents(ctx context.Context, limit int) ([]models.TraceEvent, error) {
	var events []models.TraceEvent
	if err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("event_time ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, domain.NewPersistenceError("get unprocessed events", err)
	}

	return events, nil
}

// MarkEventProcessed flags an event as projected
func (s *GormStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.TraceEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed":  true,
			"error":      nil,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return domain.NewPersistenceError("mark event processed", err)
	}

	return nil
}

// MarkEventFailed records a projection error against an event
func (s *GormStore) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.TraceEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"error":      &reason,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return domain.NewPersistenceError("mark event failed", err)
	}

	return nil
}

// RecentBatches returns the batches most recently touched by an event
func (s *GormStore) RecentBatches(ctx context.Context, limit int) ([]models.Batch, error) {
	var batches []models.Batch
	if err := s.db.WithContext(ctx).
		Where("last_event_at IS NOT NULL").
		Order("last_event_at DESC").
		Limit(limit).
		Find(&batches).Error; err != nil {
		return nil, domain.NewPersistenceError("list recent batches", err)
	}

	return batches, nil
}

// ReplaceSnapshot overwrites the mutable fields of a batch row with a rebuilt
// snapshot
func (s *GormStore) ReplaceSnapshot(ctx context.Context, batch *models.Batch) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("batch_id = ?", batch.BatchID).
		Updates(map[string]interface{}{
			"version":          batch.Version,
			"status":           batch.Status,
			"current_lat":      batch.CurrentLat,
			"current_lng":      batch.CurrentLng,
			"carbon_footprint": batch.CarbonFootprint,
			"planting_date":    batch.PlantingDate,
			"last_event_at":    batch.LastEventAt,
			"updated_at":       time.Now(),
		}).Error; err != nil {
		return domain.NewPersistenceError("replace batch snapshot", err)
	}

	return nil
}
