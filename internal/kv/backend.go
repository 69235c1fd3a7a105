// Package kv implements the key-value store behind the storefront admin data
// model: a backend contract with relational and flat-file implementations,
// and a cached service in front of them.
package kv

import (
	"context"
	"errors"
)

// Backend kinds reported by Kind.
const (
	KindRelational = "relational"
	KindFile       = "file"
)

// ErrInvalidKey is returned for empty or reserved keys.
var ErrInvalidKey = errors.New("kv: invalid key")

// Backend stores raw JSON text by key. Absence is reported through the
// boolean result of Get, never as an error.
type Backend interface {
	Kind() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context, exclude ...string) (map[string]string, error)
	// SetMany writes every entry or none of them.
	SetMany(ctx context.Context, entries map[string]string) error
}
