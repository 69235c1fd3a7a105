package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/models"
)

// AutoMigrate creates the key-value table when it is absent. An existing
// table is left exactly as it is.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	migrator := db.WithContext(ctx).Migrator()
	if migrator.HasTable(&models.KVEntry{}) {
		return nil
	}
	if err := migrator.CreateTable(&models.KVEntry{}); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}
