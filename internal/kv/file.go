package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend keeps the whole keyspace in one JSON object on disk. Mutations
// are serialised through a mutex and land with an atomic rename, so readers
// never observe a partially written file. There is no protection against
// other processes writing the same file.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend constructs a backend over path. The file is created on
// first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Kind() string { return KindFile }

// Path returns the backing file location.
func (b *FileBackend) Path() string { return b.path }

// Prepare creates the directory holding the store file.
func (b *FileBackend) Prepare() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("kv file: create dir: %w", err)
	}
	return nil
}

func (b *FileBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	doc, err := b.load()
	if err != nil {
		return "", false, err
	}
	raw, ok := doc[key]
	if !ok {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (b *FileBackend) Set(ctx context.Context, key, value string) error {
	return b.SetMany(ctx, map[string]string{key: value})
}

func (b *FileBackend) Delete(ctx context.Context, key string) error {
	return b.mutate(ctx, func(doc map[string]json.RawMessage) {
		delete(doc, key)
	})
}

func (b *FileBackend) GetAll(ctx context.Context, exclude ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := b.load()
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, key := range exclude {
		skip[key] = struct{}{}
	}

	out := make(map[string]string, len(doc))
	for key, raw := range doc {
		if _, ok := skip[key]; ok {
			continue
		}
		out[key] = string(raw)
	}
	return out, nil
}

// SetMany applies every entry in one read-modify-write.
func (b *FileBackend) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	return b.mutate(ctx, func(doc map[string]json.RawMessage) {
		for key, value := range entries {
			doc[key] = fileValue(value)
		}
	})
}

func (b *FileBackend) mutate(ctx context.Context, apply func(map[string]json.RawMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := b.load()
	if err != nil {
		return err
	}
	apply(doc)
	return b.write(doc)
}

func (b *FileBackend) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv file: read %s: %w", b.path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]json.RawMessage{}, nil
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("kv file: decode %s: %w", b.path, err)
	}
	return doc, nil
}

func (b *FileBackend) write(doc map[string]json.RawMessage) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("kv file: encode: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kv file: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kv-*.tmp")
	if err != nil {
		return fmt.Errorf("kv file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kv file: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("kv file: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv file: close: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("kv file: replace: %w", err)
	}
	return nil
}

// fileValue keeps valid JSON as-is and stores anything else as a JSON
// string, matching how the relational backend hands raw text back.
func fileValue(value string) json.RawMessage {
	if json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(value)
	return quoted
}
