package store

import (
	"context"
	"time"
)

// Store defines the storage operations the commands need. It is satisfied by
// *DB; the pipeline, the freshness controller and the ranker each take a
// narrower view of it.
type Store interface {
	// ReplaceOwnerSnapshot atomically swaps an owner's records and embeddings.
	ReplaceOwnerSnapshot(ctx context.Context, owner string, records []Record, vectors [][]float32, refreshedAt time.Time) error

	// GetRecords returns the records of the given owners, optionally filtered by language.
	GetRecords(ctx context.Context, owners []string, languages []string) ([]Record, error)

	// GetRecord looks up one record by full name.
	GetRecord(ctx context.Context, owner, fullName string) (*Record, error)

	// Snapshot returns records with their embeddings from one committed snapshot.
	Snapshot(ctx context.Context, owners []string, languages []string) ([]Entry, error)

	// LastRefresh returns the last successful ingestion time for owner.
	LastRefresh(ctx context.Context, owner string) (time.Time, bool, error)

	// GetOwnerStats and GetAllOwnerStats summarize cached owners.
	GetOwnerStats(ctx context.Context, owner string) (*OwnerStats, error)
	GetAllOwnerStats(ctx context.Context) ([]OwnerStats, error)

	Close() error
}

// Compile-time check that *DB satisfies the Store interface.
var _ Store = (*DB)(nil)
