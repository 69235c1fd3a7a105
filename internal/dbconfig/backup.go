package dbconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// backupDocument is the persisted backup shape. SavedAt and Source are
// bookkeeping and are stripped again when the file is loaded.
type backupDocument struct {
	ConnectionConfig
	SavedAt time.Time `json:"savedAt"`
	Source  Source    `json:"source,omitempty"`
}

// SaveBackup writes cfg to path atomically.
func SaveBackup(path string, cfg *ConnectionConfig, now time.Time) error {
	if path == "" {
		return fmt.Errorf("dbconfig: backup path is empty")
	}
	if cfg == nil {
		return fmt.Errorf("dbconfig: nil connection config")
	}

	payload, err := json.MarshalIndent(backupDocument{
		ConnectionConfig: *cfg,
		SavedAt:          now.UTC(),
		Source:           cfg.Source,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("dbconfig: encode backup: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("dbconfig: create backup dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dbconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("dbconfig: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dbconfig: write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dbconfig: close backup: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("dbconfig: chmod backup: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("dbconfig: replace backup: %w", err)
	}
	return nil
}

// MirrorBackup copies a usable primary file into the backup location when the
// backup is missing or holds different connection settings. It reports
// whether the backup was written.
func (r *Resolver) MirrorBackup(now time.Time) (bool, error) {
	if r.BackupFile == "" {
		return false, nil
	}

	primary, ok := LoadFile(r.PrimaryFile)
	if !ok {
		return false, nil
	}

	if backup, ok := LoadFile(r.BackupFile); ok && backup.Fingerprint() == primary.Fingerprint() {
		return false, nil
	}

	primary.Source = SourcePrimaryFile
	if err := SaveBackup(r.BackupFile, primary, now); err != nil {
		return false, err
	}
	return true, nil
}
