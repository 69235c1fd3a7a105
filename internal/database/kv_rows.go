package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/shopkv/internal/models"
)

// GetValue retrieves the raw value stored for key. The boolean is false when
// the key does not exist.
func GetValue(ctx context.Context, db *gorm.DB, key string) (string, bool, error) {
	if db == nil {
		return "", false, fmt.Errorf("kv rows: db is nil")
	}

	var entry models.KVEntry
	err := db.WithContext(ctx).Take(&entry, "key = ?", key).Error
	if err == nil {
		return entry.Value, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("kv rows: get %q: %w", key, err)
}

// UpsertValue inserts the value or replaces it and its timestamp on conflict.
func UpsertValue(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("kv rows: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("kv rows: key is required")
	}

	entry := models.KVEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entry).Error; err != nil {
		return fmt.Errorf("kv rows: upsert %q: %w", key, err)
	}
	return nil
}

// DeleteValue removes the row for key. Deleting a missing key is not an error.
func DeleteValue(ctx context.Context, db *gorm.DB, key string) error {
	if db == nil {
		return fmt.Errorf("kv rows: db is nil")
	}
	if err := db.WithContext(ctx).Where("key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("kv rows: delete %q: %w", key, err)
	}
	return nil
}

// ListValues returns every row except the excluded keys, ordered by key.
func ListValues(ctx context.Context, db *gorm.DB, exclude ...string) ([]models.KVEntry, error) {
	if db == nil {
		return nil, fmt.Errorf("kv rows: db is nil")
	}

	query := db.WithContext(ctx).Model(&models.KVEntry{})
	if len(exclude) > 0 {
		query = query.Where("key NOT IN ?", exclude)
	}

	var entries []models.KVEntry
	if err := query.Order("key").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("kv rows: list: %w", err)
	}
	return entries, nil
}
