package models

import (
	"time"

	"gorm.io/gorm"
)

// Batch represents a traceable product batch in the database. The row is the
// current snapshot of the batch; the authoritative history lives in the
// trace_events ledger.
type Batch struct {
	ID              uint    `gorm:"primaryKey" json:"-"`
	BatchID         string  `gorm:"uniqueIndex" json:"id"`
	Version         int     `json:"version"`
	ProductID       string  `gorm:"index" json:"productId"`
	InitialQuantity float64 `json:"initialQuantity"`
	Unit            string  `json:"unit"`

	// Origin, write-once at registration
	FarmID       string     `gorm:"index" json:"farmId"`
	OriginLat    float64    `json:"originLat"`
	OriginLng    float64    `json:"originLng"`
	PlantingDate *time.Time `json:"plantingDate,omitempty"`

	// Mutated only through event application
	Status          string   `gorm:"index" json:"status"`
	CurrentLat      *float64 `json:"currentLat,omitempty"`
	CurrentLng      *float64 `json:"currentLng,omitempty"`
	CarbonFootprint *float64 `json:"carbonFootprint,omitempty"`

	LastEventAt *time.Time     `json:"lastEventAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
