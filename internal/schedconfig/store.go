package schedconfig

import "context"

// Store is the persistence contract the configuration store needs: the
// current live row plus an immutable history of prior versions. Exactly
// one live row exists per installation; history rows never replace it.
//
// Implementations live in package storage (Postgres, SQLite, in-memory for
// degraded mode); this package only depends on the interface so it never
// imports a SQL driver.
type Store interface {
	// LoadCurrent returns the live config row, or ErrNotFound if no row has
	// ever been written (the caller bootstraps defaults in that case).
	LoadCurrent(ctx context.Context) (*SchedulingConfig, error)

	// SaveCurrent atomically archives the existing live row as history (if
	// any) and writes cfg as the new live row.
	SaveCurrent(ctx context.Context, cfg *SchedulingConfig) error

	// History returns up to limit history rows, most-recent-first.
	History(ctx context.Context, limit int) ([]*SchedulingConfig, error)
}

// ErrNotFound is returned by Store.LoadCurrent when no row has ever been
// persisted.
var ErrNotFound = storeError("schedconfig: no persisted config")

type storeError string

func (e storeError) Error() string { return string(e) }
