package dbconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolvePrefersConnectionString(t *testing.T) {
	r := &Resolver{Environment: map[string]string{
		"DATABASE_URL": "postgres://u:p@db.internal:5432/shop",
		"DB_HOST":      "other-host",
		"DB_USER":      "other",
	}}

	cfg, err := r.Resolve()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, SourceConnectionString, cfg.Source)
	require.Equal(t, "postgres://u:p@db.internal:5432/shop", cfg.ConnectionString)
	require.Empty(t, cfg.Host)
	require.NotNil(t, cfg.TLS)
	require.False(t, cfg.TLS.RejectUnauthorized)
}

func TestResolveDiscreteEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		database string
		port     int
		tls      bool
	}{
		{
			name:     "defaults",
			env:      map[string]string{"DB_HOST": "pg", "DB_NAME": "shop", "DB_USER": "admin"},
			database: "shop",
			port:     5432,
		},
		{
			name:     "database alias and port",
			env:      map[string]string{"DB_HOST": "pg", "DB_DATABASE": "alias", "DB_PORT": "6543"},
			database: "alias",
			port:     6543,
		},
		{
			name:     "primary name wins over alias",
			env:      map[string]string{"DB_HOST": "pg", "DB_NAME": "main", "DB_DATABASE": "alias"},
			database: "main",
			port:     5432,
		},
		{
			name:     "ssl true",
			env:      map[string]string{"DB_HOST": "pg", "DB_SSL": "TRUE"},
			port:     5432,
			tls:      true,
		},
		{
			name: "ssl one",
			env:  map[string]string{"DB_HOST": "pg", "DB_SSL": "1"},
			port: 5432,
			tls:  true,
		},
		{
			name: "ssl other",
			env:  map[string]string{"DB_HOST": "pg", "DB_SSL": "yes"},
			port: 5432,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := (&Resolver{Environment: tt.env}).Resolve()
			require.NoError(t, err)
			require.NotNil(t, cfg)
			require.Equal(t, SourceEnvironment, cfg.Source)
			require.Equal(t, "pg", cfg.Host)
			require.Equal(t, tt.port, cfg.Port)
			require.Equal(t, tt.database, cfg.Database)
			require.Equal(t, tt.tls, cfg.TLS != nil)
		})
	}
}

func TestResolveInvalidPortIsAnError(t *testing.T) {
	_, err := (&Resolver{Environment: map[string]string{"DB_HOST": "pg", "DB_PORT": "abc"}}).Resolve()
	require.Error(t, err)
}

func TestResolveFallsBackToFiles(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "missing.json")
	backup := writeFile(t, dir, "backup.json", `{"host":"backup-host","user":"u","database":"d","savedAt":"2024-01-01T00:00:00Z"}`)

	r := &Resolver{Environment: map[string]string{}, PrimaryFile: primary, BackupFile: backup}
	cfg, err := r.Resolve()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, SourceBackupFile, cfg.Source)
	require.Equal(t, "backup-host", cfg.Host)
	require.Equal(t, 5432, cfg.Port)

	writeFile(t, dir, "missing.json", `{"host":"primary-host","port":"5433"}`)
	cfg, err = r.Resolve()
	require.NoError(t, err)
	require.Equal(t, SourcePrimaryFile, cfg.Source)
	require.Equal(t, "primary-host", cfg.Host)
	require.Equal(t, 5433, cfg.Port)
}

func TestResolveRejectsUnusableFiles(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, dir, "primary.json", `{not json`)
	backup := writeFile(t, dir, "backup.json", `{"user":"only-user"}`)

	cfg, err := (&Resolver{Environment: map[string]string{}, PrimaryFile: primary, BackupFile: backup}).Resolve()
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestResolveNothingConfigured(t *testing.T) {
	cfg, err := (&Resolver{Environment: map[string]string{}}).Resolve()
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestParseFileNormalisesSSL(t *testing.T) {
	tests := []struct {
		name string
		ssl  string
		want *TLSOptions
	}{
		{name: "absent", ssl: ``, want: nil},
		{name: "bool true", ssl: `,"ssl":true`, want: &TLSOptions{}},
		{name: "bool false", ssl: `,"ssl":false`, want: nil},
		{name: "string true", ssl: `,"ssl":"true"`, want: &TLSOptions{}},
		{name: "string false", ssl: `,"ssl":"false"`, want: nil},
		{name: "object", ssl: `,"ssl":{"rejectUnauthorized":true}`, want: &TLSOptions{RejectUnauthorized: true}},
		{name: "number", ssl: `,"ssl":3`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, ok := parseFile([]byte(`{"host":"h"` + tt.ssl + `}`))
			require.True(t, ok)
			require.Equal(t, tt.want, cfg.TLS)
		})
	}
}

func TestParseFileAcceptsSQLiteDriver(t *testing.T) {
	cfg, ok := parseFile([]byte(`{"driver":"sqlite","path":"./data/shop.db","note":"local"}`))
	require.True(t, ok)
	require.Equal(t, DriverSQLite, cfg.DriverName())
	require.Equal(t, "./data/shop.db", cfg.Path)

	_, ok = parseFile([]byte(`{"driver":"sqlite"}`))
	require.False(t, ok)
}

func TestMirrorBackup(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	primary := writeFile(t, dir, "primary.json", `{"host":"h","user":"u","database":"d","ssl":"true"}`)
	backup := filepath.Join(dir, "nested", "backup.json")

	r := &Resolver{Environment: map[string]string{}, PrimaryFile: primary, BackupFile: backup}

	written, err := r.MirrorBackup(now)
	require.NoError(t, err)
	require.True(t, written)

	saved, ok := LoadFile(backup)
	require.True(t, ok)
	primaryCfg, ok := LoadFile(primary)
	require.True(t, ok)
	require.Equal(t, primaryCfg.Fingerprint(), saved.Fingerprint())

	written, err = r.MirrorBackup(now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, written)

	writeFile(t, dir, "primary.json", `{"host":"h2","user":"u","database":"d"}`)
	written, err = r.MirrorBackup(now)
	require.NoError(t, err)
	require.True(t, written)
}

func TestMirrorBackupWithoutPrimary(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{PrimaryFile: filepath.Join(dir, "none.json"), BackupFile: filepath.Join(dir, "b.json")}

	written, err := r.MirrorBackup(time.Now())
	require.NoError(t, err)
	require.False(t, written)
	_, statErr := os.Stat(filepath.Join(dir, "b.json"))
	require.True(t, os.IsNotExist(statErr))
}
