package dbconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envSource lists the environment variables consulted by the resolver.
type envSource struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME"`
	Database string `env:"DB_DATABASE"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	SSL      string `env:"DB_SSL"`
}

// Resolver determines connection parameters. Sources are consulted in order:
// DATABASE_URL, the DB_* variables, the primary file, then the backup file.
type Resolver struct {
	// Environment overrides the process environment when non-nil.
	Environment map[string]string
	PrimaryFile string
	BackupFile  string
}

// Resolve returns the first configuration that resolves, or nil when no
// relational backend is configured. Unreadable or invalid files are treated
// as absent; an error is only returned for malformed environment values.
func (r *Resolver) Resolve() (*ConnectionConfig, error) {
	var vars envSource
	if err := env.ParseWithOptions(&vars, env.Options{Environment: r.Environment}); err != nil {
		return nil, fmt.Errorf("dbconfig: parse env: %w", err)
	}

	if url := strings.TrimSpace(vars.URL); url != "" {
		return &ConnectionConfig{
			ConnectionString: url,
			TLS:              &TLSOptions{RejectUnauthorized: false},
			Source:           SourceConnectionString,
		}, nil
	}

	if host := strings.TrimSpace(vars.Host); host != "" {
		database := vars.Name
		if database == "" {
			database = vars.Database
		}
		cfg := &ConnectionConfig{
			Host:     host,
			Port:     vars.Port,
			Database: database,
			User:     vars.User,
			Password: vars.Password,
			Source:   SourceEnvironment,
		}
		if truthy(vars.SSL) {
			cfg.TLS = &TLSOptions{RejectUnauthorized: false}
		}
		return cfg, nil
	}

	if cfg, ok := LoadFile(r.PrimaryFile); ok {
		cfg.Source = SourcePrimaryFile
		return cfg, nil
	}

	if cfg, ok := LoadFile(r.BackupFile); ok {
		cfg.Source = SourceBackupFile
		return cfg, nil
	}

	return nil, nil
}

// fileConfig is the on-disk shape. SSL and Port accept several encodings,
// anything not listed here is bookkeeping and is dropped.
type fileConfig struct {
	ConnectionString string          `json:"connectionString"`
	Host             string          `json:"host"`
	Port             json.RawMessage `json:"port"`
	Database         string          `json:"database"`
	User             string          `json:"user"`
	Password         string          `json:"password"`
	SSL              json.RawMessage `json:"ssl"`
	Driver           string          `json:"driver"`
	Path             string          `json:"path"`
}

// LoadFile reads a JSON config file. The second result is false when the file
// is missing, does not parse, or carries neither a host nor a connection
// string (a sqlite path is accepted in place of a host).
func LoadFile(path string) (*ConnectionConfig, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	return parseFile(raw)
}

func parseFile(raw []byte) (*ConnectionConfig, bool) {
	var file fileConfig
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, false
	}

	cfg := &ConnectionConfig{
		ConnectionString: strings.TrimSpace(file.ConnectionString),
		Host:             strings.TrimSpace(file.Host),
		Database:         file.Database,
		User:             file.User,
		Password:         file.Password,
		TLS:              normaliseTLS(file.SSL),
		Driver:           strings.ToLower(strings.TrimSpace(file.Driver)),
		Path:             strings.TrimSpace(file.Path),
	}

	port, err := parsePort(file.Port)
	if err != nil {
		return nil, false
	}
	cfg.Port = port

	if cfg.DriverName() == DriverSQLite {
		return cfg, cfg.Path != ""
	}

	if cfg.Host == "" && cfg.ConnectionString == "" {
		return nil, false
	}
	if cfg.Host != "" && cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	return cfg, true
}

func parsePort(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}

	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	return strconv.Atoi(text)
}

// normaliseTLS coerces the accepted ssl encodings (bool, "true"/"1" string, or
// an options object) into TLS options. Falsy or unknown forms disable TLS.
func normaliseTLS(raw json.RawMessage) *TLSOptions {
	if isNull(raw) {
		return nil
	}

	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		if flag {
			return &TLSOptions{RejectUnauthorized: false}
		}
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if truthy(text) {
			return &TLSOptions{RejectUnauthorized: false}
		}
		return nil
	}

	var opts TLSOptions
	if err := json.Unmarshal(raw, &opts); err == nil && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return &opts
	}

	return nil
}

func truthy(value string) bool {
	value = strings.TrimSpace(value)
	return strings.EqualFold(value, "true") || value == "1"
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
