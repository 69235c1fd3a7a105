package models

import (
	"time"
)

// KVEntry is one row of the key-value table. Value holds JSON text and is
// opaque to the store.
type KVEntry struct {
	Key       string    `gorm:"primaryKey;type:text"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName keeps the table name stable regardless of gorm naming strategy.
func (KVEntry) TableName() string {
	return "kv"
}
