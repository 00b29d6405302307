package projections

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/models"
)

// Reconciler replays batch ledgers and repairs read-model drift. The append
// path is transactional, so this is a fallback sweep, not the primary
// consistency mechanism.
type Reconciler struct {
	store    ledger.Store
	lookback int
}

// NewReconciler creates a new reconciler
func NewReconciler(store ledger.Store, lookback int) *Reconciler {
	return &Reconciler{store: store, lookback: lookback}
}

// Run replays the ledgers of recently active batches and overwrites any
// snapshot that no longer matches its rebuilt state
func (r *Reconciler) Run(ctx context.Context) error {
	batches, err := r.store.RecentBatches(ctx, r.lookback)
	if err != nil {
		return err
	}

	repaired := 0
	for _, batch := range batches {
		drifted, err := r.reconcileBatch(ctx, &batch)
		if err != nil {
			log.Error().Err(err).Str("batchID", batch.BatchID).Msg("Failed to reconcile batch")
			continue
		}
		if drifted {
			repaired++
		}
	}

	if repaired > 0 {
		log.Warn().Int("repaired", repaired).Msg("Reconciliation repaired drifted batch snapshots")
	}

	return nil
}

func (r *Reconciler) reconcileBatch(ctx context.Context, batch *models.Batch) (bool, error) {
	rows, err := r.store.History(ctx, batch.BatchID)
	if err != nil {
		return false, err
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := domainEvent(row)
		if err != nil {
			return false, err
		}
		events = append(events, event)
	}

	// PlantingDate is carried over: the rebuild cannot distinguish an
	// origin-provided date from an event-derived one.
	state := domain.NewBatchState(
		batch.BatchID,
		batch.ProductID,
		batch.InitialQuantity,
		batch.Unit,
		batch.FarmID,
		domain.Location{Lat: batch.OriginLat, Lng: batch.OriginLng},
		batch.PlantingDate,
	)
	if err := state.Rebuild(events); err != nil {
		return false, err
	}

	if !snapshotDrifted(batch, state) {
		return false, nil
	}

	log.Warn().
		Str("batchID", batch.BatchID).
		Str("storedStatus", batch.Status).
		Str("rebuiltStatus", state.Status).
		Int("storedVersion", batch.Version).
		Int("rebuiltVersion", state.Version).
		Msg("Batch snapshot drifted from ledger, repairing")

	rebuilt := *batch
	rebuilt.Version = state.Version
	rebuilt.Status = state.Status
	rebuilt.CarbonFootprint = state.CarbonFootprint
	rebuilt.PlantingDate = state.PlantingDate
	rebuilt.LastEventAt = state.LastEventAt
	rebuilt.CurrentLat = nil
	rebuilt.CurrentLng = nil
	if state.CurrentLocation != nil {
		rebuilt.CurrentLat = &state.CurrentLocation.Lat
		rebuilt.CurrentLng = &state.CurrentLocation.Lng
	}

	if err := r.store.ReplaceSnapshot(ctx, &rebuilt); err != nil {
		return false, err
	}

	return true, nil
}

// domainEvent converts a ledger row into a domain event, decoding the typed
// payload variant
func domainEvent(row models.TraceEvent) (domain.Event, error) {
	data, err := domain.DecodeEventData(row.EventType, json.RawMessage(row.Data))
	if err != nil {
		return domain.Event{}, err
	}

	event := domain.Event{
		ID:              row.EventID,
		BatchID:         row.BatchID,
		Type:            row.EventType,
		StakeholderID:   row.StakeholderID,
		StakeholderType: row.StakeholderType,
		Timestamp:       row.EventTime,
		Data:            data,
	}
	if row.Lat != nil && row.Lng != nil {
		event.Location = &domain.Location{Lat: *row.Lat, Lng: *row.Lng}
	}

	return event, nil
}

func snapshotDrifted(batch *models.Batch, state *domain.BatchState) bool {
	if batch.Version != state.Version || batch.Status != state.Status {
		return true
	}
	if !floatPtrEqual(batch.CarbonFootprint, state.CarbonFootprint) {
		return true
	}

	var stateLat, stateLng *float64
	if state.CurrentLocation != nil {
		stateLat = &state.CurrentLocation.Lat
		stateLng = &state.CurrentLocation.Lng
	}
	return !floatPtrEqual(batch.CurrentLat, stateLat) || !floatPtrEqual(batch.CurrentLng, stateLng)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
