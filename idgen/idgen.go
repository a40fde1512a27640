// Package idgen generates the identifiers used in logs and on the wire:
// page sessions, reconcile batches and channel requests.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator of base-36 IDs of the given length. Short
// enough for per-batch log correlation.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of time-sortable RFC 9562 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// Session identifies one Hider attached to one page.
	Session Generator = Prefixed("ses_", UUIDv7())
	// Batch identifies one flushed mutation batch.
	Batch Generator = Prefixed("bat_", NanoID(8))
	// Request identifies one channel request.
	Request Generator = Prefixed("req_", NanoID(12))
)

// New produces a bare UUIDv7.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Parse validates a UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
