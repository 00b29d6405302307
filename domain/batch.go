package domain

import (
	"sort"
	"time"
)

// Batch status values. The enumeration is open; these are the values the
// service itself writes.
const (
	StatusRegistered  = "Registered"
	StatusPlanted     = "Planted"
	StatusHarvested   = "Harvested"
	StatusInTransit   = "In Transit"
	StatusProcessed   = "Processed"
	StatusQualityHold = "Quality Hold"
)

// BatchState is the in-memory state of a batch aggregate. BatchID and the
// origin fields are write-once; Status, CurrentLocation and CarbonFootprint
// are the only fields event application may mutate.
type BatchState struct {
	BatchID         string
	ProductID       string
	InitialQuantity float64
	Unit            string
	FarmID          string
	Origin          Location
	PlantingDate    *time.Time
	Status          string
	CurrentLocation *Location
	CarbonFootprint *float64
	LastEventAt     *time.Time
	Version         int
}

// NewBatchState creates the state of a freshly registered batch
func NewBatchState(batchID, productID string, quantity float64, unit, farmID string, origin Location, plantingDate *time.Time) *BatchState {
	return &BatchState{
		BatchID:         batchID,
		ProductID:       productID,
		InitialQuantity: quantity,
		Unit:            unit,
		FarmID:          farmID,
		Origin:          origin,
		PlantingDate:    plantingDate,
		Status:          StatusRegistered,
		Version:         1,
	}
}

// Apply mutates the batch state with one chain-of-custody event and advances
// the version. Events with an unrecognized type only move the batch when they
// carry a location.
func (s *BatchState) Apply(e Event) error {
	if e.BatchID != s.BatchID {
		return NewValidationError("event batch id %q does not match batch %q", e.BatchID, s.BatchID)
	}

	switch data := e.Data.(type) {
	case PlantingEventData:
		s.Status = StatusPlanted
		if s.PlantingDate == nil {
			t := e.Timestamp
			s.PlantingDate = &t
		}

	case HarvestEventData:
		s.Status = StatusHarvested

	case TransportationEventData:
		s.Status = StatusInTransit
		if data.Destination != nil {
			dest := *data.Destination
			s.CurrentLocation = &dest
		}
		if data.DistanceKm > 0 {
			s.accrueCarbon(CarbonForTransport(data.Mode, data.DistanceKm))
		}

	case ProcessingEventData:
		s.Status = StatusProcessed

	case QualityCheckEventData:
		if !data.Passed {
			s.Status = StatusQualityHold
		}

	case UnknownEventData:
		// no status transition for extension event types
	}

	// Any event reported with a location moves the batch there, unless a
	// transport destination already did.
	if e.Location != nil && s.locationNotSetBy(e) {
		loc := *e.Location
		s.CurrentLocation = &loc
	}

	if s.LastEventAt == nil || e.Timestamp.After(*s.LastEventAt) {
		t := e.Timestamp
		s.LastEventAt = &t
	}
	s.Version++

	return nil
}

func (s *BatchState) locationNotSetBy(e Event) bool {
	data, ok := e.Data.(TransportationEventData)
	return !ok || data.Destination == nil
}

func (s *BatchState) accrueCarbon(amount float64) {
	if s.CarbonFootprint == nil {
		s.CarbonFootprint = new(float64)
	}
	*s.CarbonFootprint += amount
}

// Rebuild replays a batch's full ledger in chronological order against a
// fresh registration state. Used by the reconciliation job to detect and
// repair read-model drift.
func (s *BatchState) Rebuild(events []Event) error {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for _, e := range sorted {
		if err := s.Apply(e); err != nil {
			return err
		}
	}
	return nil
}
