package store

import (
	"context"
	"fmt"

	"github.com/jacklau/ghstars/internal/apperr"
)

// OwnerStats holds aggregate statistics for a single cached owner.
type OwnerStats struct {
	Owner          Owner
	EmbeddingCount int
	LanguageCount  int
	TotalStars     int64
}

// GetOwnerStats returns aggregate statistics for one owner.
func (d *DB) GetOwnerStats(ctx context.Context, username string) (*OwnerStats, error) {
	refreshed, ok, err := d.LastRefresh(ctx, username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "owner", Key: username}
	}

	stats := &OwnerStats{Owner: Owner{Username: username, LastRefresh: refreshed}}

	// Records, distinct languages and summed stars
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT LOWER(language)), COALESCE(SUM(stars), 0)
		FROM repos WHERE username = ?`, username,
	).Scan(&stats.Owner.RecordCount, &stats.LanguageCount, &stats.TotalStars)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	// Embeddings
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repo_vectors WHERE username = ?`, username,
	).Scan(&stats.EmbeddingCount)
	if err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}

	return stats, nil
}

// GetAllOwnerStats returns statistics for every cached owner.
func (d *DB) GetAllOwnerStats(ctx context.Context) ([]OwnerStats, error) {
	owners, err := d.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}

	var results []OwnerStats
	for _, o := range owners {
		stats, err := d.GetOwnerStats(ctx, o.Username)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", o.Username, err)
		}
		results = append(results, *stats)
	}

	return results, nil
}
