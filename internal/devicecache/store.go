// Package devicecache persists the devices granted to pages.
//
// The cache is what getDevices reports and what lets a page reconnect to a
// device it was granted in an earlier session. It is eventually consistent
// with the in-memory device registry: writes happen after the registry is
// updated and failures are logged, never surfaced to the page.
package devicecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entry exists for an external id.
	ErrNotFound = errors.New("devicecache: not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("devicecache: closed")

	// ErrInvalidEntry is returned when an entry lacks an external id.
	ErrInvalidEntry = errors.New("devicecache: invalid entry")
)

// Entry is one granted device.
type Entry struct {
	// ExternalID is the page-visible identifier.
	ExternalID string `json:"external_id"`

	// PeripheralID is the radio identifier used for reconnection.
	PeripheralID string `json:"peripheral_id"`

	// Description is the page-visible JSON description.
	Description json.RawMessage `json:"description"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a persisted device cache.
type Store interface {
	// List returns every entry, oldest update first.
	List(ctx context.Context) ([]Entry, error)

	// Get returns the entry for an external id.
	Get(ctx context.Context, externalID string) (Entry, error)

	// Put inserts or replaces an entry.
	Put(ctx context.Context, e Entry) error

	// Remove deletes an entry. Removing an absent entry is not an error.
	Remove(ctx context.Context, externalID string) error

	// PeripheralFor returns the radio identifier stored for an external id.
	PeripheralFor(ctx context.Context, externalID string) (string, error)

	// Close releases backend resources.
	Close() error
}

// Descriptions extracts the page-visible descriptions from entries.
func Descriptions(entries []Entry) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Description)
	}
	return out
}

func validate(e Entry) error {
	if e.ExternalID == "" {
		return ErrInvalidEntry
	}
	return nil
}

func stamp(e Entry) Entry {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	return e
}
