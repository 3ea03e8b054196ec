package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SimpleMovingAverage stores one day's 20/50/200 simple moving averages for a
// trading pair. A row is unique per (timestamp, pair, precision); the
// calculation pipeline only ever inserts, never updates.
type SimpleMovingAverage struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Timestamp int64           `gorm:"not null;uniqueIndex:idx_ts_pair_precision" json:"timestamp"`
	Pair      string          `gorm:"size:10;not null;uniqueIndex:idx_ts_pair_precision" json:"pair"`
	Precision string          `gorm:"size:10;not null;uniqueIndex:idx_ts_pair_precision" json:"precision"`
	MMS20     decimal.Decimal `gorm:"type:decimal(20,10)" json:"mms_20"`
	MMS50     decimal.Decimal `gorm:"type:decimal(20,10)" json:"mms_50"`
	MMS200    decimal.Decimal `gorm:"type:decimal(20,10)" json:"mms_200"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName keeps the historical table name used by the read API.
func (SimpleMovingAverage) TableName() string {
	return "ind_simplemovingaverage"
}

// BeforeSave normalizes the pair symbol to uppercase
func (m *SimpleMovingAverage) BeforeSave(tx *gorm.DB) error {
	m.Pair = strings.ToUpper(m.Pair)
	return nil
}

// MigrateIndicatorModels runs database migrations for indicator-related models
func MigrateIndicatorModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&SimpleMovingAverage{},
	)
}
