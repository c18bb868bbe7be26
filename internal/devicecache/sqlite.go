package devicecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/webble-core/internal/infrastructure/config"
	"github.com/nerrad567/webble-core/internal/infrastructure/database"
)

// timeLayout is fixed-width so updated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a Store backed by the granted_devices table.
type SQLite struct {
	db    *database.DB
	owned bool
}

var _ Store = (*SQLite)(nil)

// NewSQLite creates a store on an open, migrated database. The store does
// not own the database.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

// OpenSQLite opens the database at cfg.Path, applies pending migrations and
// returns a store that closes the database on Close.
func OpenSQLite(ctx context.Context, cfg config.DatabaseConfig) (*SQLite, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLite{db: db, owned: true}, nil
}

// List returns every entry, oldest update first.
func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, peripheral_id, description, updated_at
		FROM granted_devices
		ORDER BY updated_at, external_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying granted devices: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating granted devices: %w", err)
	}
	return entries, nil
}

// Get returns the entry for an external id.
func (s *SQLite) Get(ctx context.Context, externalID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT external_id, peripheral_id, description, updated_at
		FROM granted_devices
		WHERE external_id = ?
	`, externalID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Put inserts or replaces an entry.
func (s *SQLite) Put(ctx context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	e = stamp(e)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO granted_devices (external_id, peripheral_id, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			peripheral_id = excluded.peripheral_id,
			description   = excluded.description,
			updated_at    = excluded.updated_at
	`, e.ExternalID, e.PeripheralID, string(e.Description), e.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("storing granted device %s: %w", e.ExternalID, err)
	}
	return nil
}

// Remove deletes an entry.
func (s *SQLite) Remove(ctx context.Context, externalID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM granted_devices WHERE external_id = ?", externalID); err != nil {
		return fmt.Errorf("removing granted device %s: %w", externalID, err)
	}
	return nil
}

// PeripheralFor returns the radio identifier stored for an external id.
func (s *SQLite) PeripheralFor(ctx context.Context, externalID string) (string, error) {
	var peripheralID string
	err := s.db.QueryRowContext(ctx,
		"SELECT peripheral_id FROM granted_devices WHERE external_id = ?", externalID,
	).Scan(&peripheralID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying peripheral for %s: %w", externalID, err)
	}
	return peripheralID, nil
}

// Close closes the database if the store opened it.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies the database answers.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		description string
		updatedAt   string
	)
	if err := row.Scan(&e.ExternalID, &e.PeripheralID, &description, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning granted device: %w", err)
	}
	e.Description = []byte(description)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt) //nolint:errcheck // Format is written by Put
	return e, nil
}
