package models

import (
	"gorm.io/gorm"
)

// SetupModels runs the schema migrations for all traceability tables
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Batch{},
		&TraceEvent{},
	)
}
