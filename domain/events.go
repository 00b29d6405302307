package domain

import (
	"encoding/json"
	"time"
)

// Known event types. The set is open: unrecognized types are accepted and
// stored with an opaque payload, validated only at the edges.
const (
	EventPlanting       = "Planting"
	EventHarvest        = "Harvest"
	EventTransportation = "Transportation"
	EventProcessing     = "Processing"
	EventQualityCheck   = "QualityCheck"
)

// Location is a geographic coordinate pair
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Event represents one timestamped fact in a batch's chain of custody.
// Ordering between events for the same batch is defined by Timestamp, not
// by insertion order.
type Event struct {
	ID              string
	BatchID         string
	Type            string
	StakeholderID   string
	StakeholderType string
	Location        *Location
	Timestamp       time.Time
	Data            interface{}
}

// PlantingEventData is the payload for a Planting event
type PlantingEventData struct {
	CropType       string  `json:"cropType" validate:"required"`
	SeedType       string  `json:"seedType,omitempty"`
	PlantingMethod string  `json:"plantingMethod,omitempty"`
	AreaPlanted    float64 `json:"areaPlanted" validate:"gt=0"`
}

// HarvestEventData is the payload for a Harvest event
type HarvestEventData struct {
	Yield               float64 `json:"yield" validate:"gt=0"`
	Unit                string  `json:"unit" validate:"required"`
	HarvestMethod       string  `json:"harvestMethod,omitempty"`
	QualityObservations string  `json:"qualityObservations,omitempty"`
}

// TransportationEventData is the payload for a Transportation event
type TransportationEventData struct {
	CarrierID   string    `json:"carrierId,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	DistanceKm  float64   `json:"distanceKm" validate:"gte=0"`
	Destination *Location `json:"destination,omitempty"`
}

// ProcessingEventData is the payload for a Processing event
type ProcessingEventData struct {
	ProcessType    string  `json:"processType" validate:"required"`
	FacilityID     string  `json:"facilityId,omitempty"`
	OutputQuantity float64 `json:"outputQuantity,omitempty" validate:"gte=0"`
	OutputUnit     string  `json:"outputUnit,omitempty"`
}

// QualityCheckEventData is the payload for a QualityCheck event
type QualityCheckEventData struct {
	InspectorID     string `json:"inspectorId,omitempty"`
	Passed          bool   `json:"passed"`
	CertificationID string `json:"certificationId,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// UnknownEventData carries the opaque payload of an unrecognized event type
type UnknownEventData struct {
	Payload json.RawMessage
}

// Carbon accrual per transported kilometre, keyed by transport mode (kg CO2e/km)
var carbonPerKm = map[string]float64{
	"Truck": 0.12,
	"Rail":  0.03,
	"Ship":  0.015,
	"Air":   0.60,
}

const defaultCarbonPerKm = 0.12

// CarbonForTransport returns the footprint accrued by a transport leg
func CarbonForTransport(mode string, distanceKm float64) float64 {
	factor, ok := carbonPerKm[mode]
	if !ok {
		factor = defaultCarbonPerKm
	}
	return factor * distanceKm
}

// DecodeEventData parses a raw payload into the typed variant for eventType.
// Unrecognized event types yield UnknownEventData. A malformed payload for a
// recognized type is a ValidationError.
func DecodeEventData(eventType string, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	switch eventType {
	case EventPlanting:
		var data PlantingEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, NewValidationError("malformed %s payload: %v", eventType, err)
		}
		return data, nil

	case EventHarvest:
		var data HarvestEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, NewValidationError("malformed %s payload: %v", eventType, err)
		}
		return data, nil

	case EventTransportation:
		var data TransportationEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, NewValidationError("malformed %s payload: %v", eventType, err)
		}
		return data, nil

	case EventProcessing:
		var data ProcessingEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, NewValidationError("malformed %s payload: %v", eventType, err)
		}
		return data, nil

	case EventQualityCheck:
		var data QualityCheckEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, NewValidationError("malformed %s payload: %v", eventType, err)
		}
		return data, nil

	default:
		if !json.Valid(raw) {
			return nil, NewValidationError("payload for event type %q is not valid JSON", eventType)
		}
		return UnknownEventData{Payload: raw}, nil
	}
}
