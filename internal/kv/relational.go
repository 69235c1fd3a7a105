package kv

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/charlesng35/shopkv/internal/database"
)

// PoolProvider hands out the shared pool and collects query failures.
type PoolProvider interface {
	GetPool(ctx context.Context) (*gorm.DB, error)
	RecordError(err error)
}

// RelationalBackend stores entries in the kv table.
type RelationalBackend struct {
	pools PoolProvider
}

// NewRelationalBackend constructs a backend over the pool provider.
func NewRelationalBackend(pools PoolProvider) *RelationalBackend {
	return &RelationalBackend{pools: pools}
}

func (b *RelationalBackend) Kind() string { return KindRelational }

func (b *RelationalBackend) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := b.pools.GetPool(ctx)
	if err != nil {
		return "", false, err
	}
	value, found, err := database.GetValue(ctx, db, key)
	if err != nil {
		b.pools.RecordError(err)
	}
	return value, found, err
}

func (b *RelationalBackend) Set(ctx context.Context, key, value string) error {
	db, err := b.pools.GetPool(ctx)
	if err != nil {
		return err
	}
	if err := database.UpsertValue(ctx, db, key, value); err != nil {
		b.pools.RecordError(err)
		return err
	}
	return nil
}

func (b *RelationalBackend) Delete(ctx context.Context, key string) error {
	db, err := b.pools.GetPool(ctx)
	if err != nil {
		return err
	}
	if err := database.DeleteValue(ctx, db, key); err != nil {
		b.pools.RecordError(err)
		return err
	}
	return nil
}

func (b *RelationalBackend) GetAll(ctx context.Context, exclude ...string) (map[string]string, error) {
	db, err := b.pools.GetPool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := database.ListValues(ctx, db, exclude...)
	if err != nil {
		b.pools.RecordError(err)
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// SetMany upserts all entries in one transaction. Any failure rolls the
// whole batch back.
func (b *RelationalBackend) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	db, err := b.pools.GetPool(ctx)
	if err != nil {
		return err
	}

	keys := sortedKeys(entries)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := database.UpsertValue(ctx, tx, key, entries[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.pools.RecordError(err)
		return err
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
