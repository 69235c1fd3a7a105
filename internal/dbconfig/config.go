// Package dbconfig resolves relational connection settings from the
// environment and from on-disk JSON config files.
package dbconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Source identifies where a ConnectionConfig was resolved from.
type Source string

const (
	SourceConnectionString Source = "env_url"
	SourceEnvironment      Source = "env"
	SourcePrimaryFile      Source = "file"
	SourceBackupFile       Source = "backup_file"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPort = 5432
)

// TLSOptions enables TLS on the connection. RejectUnauthorized turns on peer
// certificate verification.
type TLSOptions struct {
	RejectUnauthorized bool `json:"rejectUnauthorized"`
}

// ConnectionConfig holds the connection fields of a resolved configuration.
// Source is informational and does not take part in the fingerprint.
type ConnectionConfig struct {
	ConnectionString string      `json:"connectionString,omitempty"`
	Host             string      `json:"host,omitempty"`
	Port             int         `json:"port,omitempty"`
	Database         string      `json:"database,omitempty"`
	User             string      `json:"user,omitempty"`
	Password         string      `json:"password,omitempty"`
	TLS              *TLSOptions `json:"ssl,omitempty"`
	Driver           string      `json:"driver,omitempty"`
	Path             string      `json:"path,omitempty"`

	Source Source `json:"-"`
}

// DriverName returns the normalised driver, defaulting to postgres.
func (c *ConnectionConfig) DriverName() string {
	if c == nil {
		return ""
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" || driver == "postgresql" {
		return DriverPostgres
	}
	return driver
}

// Fingerprint returns a stable digest of the connection fields. Two configs
// with the same fingerprint can share a pool.
func (c *ConnectionConfig) Fingerprint() string {
	if c == nil {
		return ""
	}

	payload := struct {
		ConnectionString string      `json:"c"`
		Host             string      `json:"h"`
		Port             int         `json:"p"`
		Database         string      `json:"d"`
		User             string      `json:"u"`
		Password         string      `json:"w"`
		TLS              *TLSOptions `json:"s"`
		Driver           string      `json:"r"`
		Path             string      `json:"f"`
	}{
		ConnectionString: c.ConnectionString,
		Host:             c.Host,
		Port:             c.effectivePort(),
		Database:         c.Database,
		User:             c.User,
		Password:         c.Password,
		TLS:              c.TLS,
		Driver:           c.DriverName(),
		Path:             c.Path,
	}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Redacted returns a copy safe to log or expose through status endpoints.
func (c *ConnectionConfig) Redacted() ConnectionConfig {
	if c == nil {
		return ConnectionConfig{}
	}
	out := *c
	if out.Password != "" {
		out.Password = "***"
	}
	if out.ConnectionString != "" {
		out.ConnectionString = redactURL(out.ConnectionString)
	}
	if out.TLS != nil {
		tls := *out.TLS
		out.TLS = &tls
	}
	return out
}

func (c *ConnectionConfig) effectivePort() int {
	if c.Port == 0 && c.ConnectionString == "" && c.DriverName() == DriverPostgres {
		return defaultPort
	}
	return c.Port
}

func (c *ConnectionConfig) sslMode() string {
	switch {
	case c.TLS == nil:
		return "disable"
	case c.TLS.RejectUnauthorized:
		return "verify-full"
	default:
		return "require"
	}
}

// DSN builds a postgres DSN. Connection strings are passed through with
// sslmode and connect_timeout added when they do not already carry them.
func (c *ConnectionConfig) DSN(connectTimeout time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("dbconfig: nil connection config")
	}
	if c.DriverName() != DriverPostgres {
		return "", fmt.Errorf("dbconfig: DSN not supported for driver %q", c.Driver)
	}

	options := map[string]string{
		"sslmode": c.sslMode(),
	}
	if seconds := int(connectTimeout / time.Second); seconds > 0 {
		options["connect_timeout"] = strconv.Itoa(seconds)
	}

	if c.ConnectionString != "" {
		return withOptions(c.ConnectionString, options)
	}

	if c.User == "" || c.Database == "" {
		return "", errors.New("dbconfig: postgres configuration requires user and database name")
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}

	params := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", c.effectivePort()),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Database),
	}

	if c.Password != "" {
		params = append(params, fmt.Sprintf("password=%s", c.Password))
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params = append(params, fmt.Sprintf("%s=%s", key, options[key]))
	}

	return strings.Join(params, " "), nil
}

func withOptions(connection string, options map[string]string) (string, error) {
	if strings.HasPrefix(connection, "postgres://") || strings.HasPrefix(connection, "postgresql://") {
		parsed, err := url.Parse(connection)
		if err != nil {
			return "", fmt.Errorf("dbconfig: parse connection string: %w", err)
		}
		query := parsed.Query()
		for key, value := range options {
			if query.Get(key) == "" {
				query.Set(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
		return parsed.String(), nil
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := connection
	for _, key := range keys {
		if strings.Contains(out, key+"=") {
			continue
		}
		out += fmt.Sprintf(" %s=%s", key, options[key])
	}
	return out, nil
}

func redactURL(connection string) string {
	parsed, err := url.Parse(connection)
	if err != nil || parsed.User == nil {
		return connection
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), "***")
	}
	return parsed.String()
}
