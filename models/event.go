package models

import (
	"encoding/json"
	"time"
)

// TraceEvent represents one row in the append-only chain-of-custody ledger.
// Rows are never updated or deleted once written; the only mutable columns
// are the projection bookkeeping fields (Processed, Error).
type TraceEvent struct {
	ID              uint            `gorm:"primaryKey" json:"-"`
	EventID         string          `gorm:"uniqueIndex" json:"id"`
	BatchID         string          `gorm:"index" json:"vtiBatchId"`
	EventType       string          `gorm:"index" json:"eventType"`
	StakeholderID   string          `json:"stakeholderId"`
	StakeholderType string          `json:"stakeholderType"`
	Lat             *float64        `json:"lat,omitempty"`
	Lng             *float64        `json:"lng,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	EventTime       time.Time       `gorm:"index" json:"timestamp"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
	Error     *string   `json:"-"`
	Processed bool      `gorm:"index" json:"-"`
}
