package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/cache"
	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/metrics"
	"example.com/damdoh/services/traceability/models"
	"example.com/damdoh/services/traceability/utils"
)

// OriginInput is the origin block of a batch registration
type OriginInput struct {
	FarmID       string          `json:"farmId" validate:"required"`
	Location     domain.Location `json:"location" validate:"required"`
	PlantingDate *time.Time      `json:"plantingDate,omitempty"`
}

// RegisterBatchCommand registers a new traceable batch
type RegisterBatchCommand struct {
	ProductID       string      `json:"productId" validate:"required"`
	InitialQuantity float64     `json:"initialQuantity" validate:"gt=0"`
	Unit            string      `json:"unit" validate:"required"`
	Origin          OriginInput `json:"origin" validate:"required"`
}

// AppendEventCommand appends one chain-of-custody event to a batch
type AppendEventCommand struct {
	BatchID         string           `json:"vtiBatchId" validate:"required"`
	EventType       string           `json:"eventType" validate:"required"`
	StakeholderID   string           `json:"stakeholderId" validate:"required"`
	StakeholderType string           `json:"stakeholderType" validate:"required"`
	Timestamp       time.Time        `json:"timestamp"`
	Location        *domain.Location `json:"location,omitempty"`
	Data            json.RawMessage  `json:"data,omitempty"`
}

// BatchHistory is a batch snapshot together with its full ordered event chain
type BatchHistory struct {
	Batch  *models.Batch       `json:"batch"`
	Events []models.TraceEvent `json:"events"`
}

// BatchHandler handles batch registration, event appends and history reads
type BatchHandler struct {
	store   ledger.Store
	cache   *cache.RedisCache
	metrics *metrics.Metrics
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(store ledger.Store, redisCache *cache.RedisCache, collector *metrics.Metrics) *BatchHandler {
	return &BatchHandler{
		store:   store,
		cache:   redisCache,
		metrics: collector,
	}
}

// HandleRegisterBatch validates and persists a new batch
func (h *BatchHandler) HandleRegisterBatch(ctx context.Context, cmd RegisterBatchCommand) (*models.Batch, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, domain.NewValidationError("invalid batch payload: %v", err)
	}

	state := domain.NewBatchState(
		uuid.New().String(),
		cmd.ProductID,
		cmd.InitialQuantity,
		cmd.Unit,
		cmd.Origin.FarmID,
		cmd.Origin.Location,
		cmd.Origin.PlantingDate,
	)

	batch := &models.Batch{
		BatchID:         state.BatchID,
		Version:         state.Version,
		ProductID:       state.ProductID,
		InitialQuantity: state.InitialQuantity,
		Unit:            state.Unit,
		FarmID:          state.FarmID,
		OriginLat:       state.Origin.Lat,
		OriginLng:       state.Origin.Lng,
		PlantingDate:    state.PlantingDate,
		Status:          state.Status,
	}

	if err := h.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	h.metrics.IncrementCounter("batches_registered")
	return batch, nil
}

// HandleAppendEvent validates an event, checks the referenced batch exists,
// applies it to the batch state and appends it to the ledger in one
// transaction. A lost optimistic-concurrency race is retried once against
// fresh state before being surfaced.
func (h *BatchHandler) HandleAppendEvent(ctx context.Context, cmd AppendEventCommand) (*models.TraceEvent, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, domain.NewValidationError("invalid event payload: %v", err)
	}

	data, err := domain.DecodeEventData(cmd.EventType, cmd.Data)
	if err != nil {
		return nil, err
	}
	if err := validateEventData(data); err != nil {
		return nil, err
	}

	timestamp := cmd.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	start := time.Now()
	row, err := h.appendOnce(ctx, cmd, data, timestamp)
	if errors.Is(err, ledger.ErrVersionConflict) {
		log.Warn().Str("batchID", cmd.BatchID).Msg("Version conflict on append, retrying against fresh state")
		h.metrics.IncrementCounter("append_version_conflicts")
		row, err = h.appendOnce(ctx, cmd, data, timestamp)
	}
	if err != nil {
		return nil, err
	}

	if cerr := h.cache.Delete(ctx, historyCacheKey(cmd.BatchID)); cerr != nil {
		log.Debug().Err(cerr).Str("batchID", cmd.BatchID).Msg("Could not invalidate history cache")
	}

	h.metrics.IncrementCounter("events_appended")
	h.metrics.RecordTime("append_event", time.Since(start))
	return row, nil
}

func (h *BatchHandler) appendOnce(ctx context.Context, cmd AppendEventCommand, data interface{}, timestamp time.Time) (*models.TraceEvent, error) {
	batch, err := h.store.GetBatch(ctx, cmd.BatchID)
	if err != nil {
		return nil, err
	}

	state := stateFromModel(batch)

	event := domain.Event{
		ID:              uuid.New().String(),
		BatchID:         cmd.BatchID,
		Type:            cmd.EventType,
		StakeholderID:   cmd.StakeholderID,
		StakeholderType: cmd.StakeholderType,
		Location:        cmd.Location,
		Timestamp:       timestamp,
		Data:            data,
	}

	if err := state.Apply(event); err != nil {
		return nil, err
	}

	row := &models.TraceEvent{
		EventID:         event.ID,
		BatchID:         event.BatchID,
		EventType:       event.Type,
		StakeholderID:   event.StakeholderID,
		StakeholderType: event.StakeholderType,
		Data:            cmd.Data,
		EventTime:       timestamp,
	}
	if event.Location != nil {
		row.Lat = &event.Location.Lat
		row.Lng = &event.Location.Lng
	}

	update := ledger.BatchUpdate{
		Status:          state.Status,
		CarbonFootprint: state.CarbonFootprint,
		PlantingDate:    state.PlantingDate,
		LastEventAt:     state.LastEventAt,
		ExpectedVersion: batch.Version,
		NewVersion:      state.Version,
	}
	if state.CurrentLocation != nil {
		update.CurrentLat = &state.CurrentLocation.Lat
		update.CurrentLng = &state.CurrentLocation.Lng
	}

	if err := h.store.AppendEvent(ctx, row, update); err != nil {
		return nil, err
	}

	return row, nil
}

// HandleGetHistory returns a batch and its events ordered ascending by event
// time, read through the cache when one is configured
func (h *BatchHandler) HandleGetHistory(ctx context.Context, batchID string) (*BatchHistory, error) {
	if batchID == "" {
		return nil, domain.NewValidationError("batchId is required")
	}

	var cached BatchHistory
	if err := h.cache.Get(ctx, historyCacheKey(batchID), &cached); err == nil {
		h.metrics.IncrementCounter("history_cache_hits")
		return &cached, nil
	}

	batch, err := h.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	events, err := h.store.History(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.TraceEvent{}
	}

	history := &BatchHistory{Batch: batch, Events: events}

	if cerr := h.cache.Set(ctx, historyCacheKey(batchID), history); cerr != nil {
		log.Debug().Err(cerr).Str("batchID", batchID).Msg("Could not cache history")
	}

	return history, nil
}

// HandleListBatches returns batch snapshots filtered by farm and status
func (h *BatchHandler) HandleListBatches(ctx context.Context, filter ledger.BatchFilter) ([]models.Batch, error) {
	batches, err := h.store.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	if batches == nil {
		batches = []models.Batch{}
	}
	return batches, nil
}

func validateEventData(data interface{}) error {
	switch data.(type) {
	case domain.UnknownEventData:
		return nil
	}
	if err := utils.ValidateStruct(data); err != nil {
		return domain.NewValidationError("invalid event data: %v", err)
	}
	return nil
}

func stateFromModel(b *models.Batch) *domain.BatchState {
	state := &domain.BatchState{
		BatchID:         b.BatchID,
		ProductID:       b.ProductID,
		InitialQuantity: b.InitialQuantity,
		Unit:            b.Unit,
		FarmID:          b.FarmID,
		Origin:          domain.Location{Lat: b.OriginLat, Lng: b.OriginLng},
		PlantingDate:    b.PlantingDate,
		Status:          b.Status,
		CarbonFootprint: b.CarbonFootprint,
		LastEventAt:     b.LastEventAt,
		Version:         b.Version,
	}
	if b.CurrentLat != nil && b.CurrentLng != nil {
		state.CurrentLocation = &domain.Location{Lat: *b.CurrentLat, Lng: *b.CurrentLng}
	}
	return state
}

func historyCacheKey(batchID string) string {
	return "vti:history:" + batchID
}
