package migration

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
)

// ErrForbidden rejects an on-demand migration trigger.
var ErrForbidden = errors.New("migration: forbidden")

// Authorize checks an on-demand trigger. With a configured secret the
// provided one must match; without one only loopback callers are allowed.
func Authorize(configured, provided string, remote net.IP) error {
	if configured == "" {
		if remote != nil && remote.IsLoopback() {
			return nil
		}
		return ErrForbidden
	}

	want := sha256.Sum256([]byte(configured))
	got := sha256.Sum256([]byte(provided))
	if provided == "" || subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return ErrForbidden
	}
	return nil
}
