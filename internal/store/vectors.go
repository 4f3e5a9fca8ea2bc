package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jacklau/ghstars/internal/vector"
)

// ErrDimensionMismatch is returned when a stored embedding and a query vector
// have different lengths, which happens after switching embedding models
// without refetching.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Neighbor is one nearest-neighbour result. Distance is the cosine distance
// (1 - cosine similarity), in [0, 2].
type Neighbor struct {
	Owner    string
	ID       int64
	Distance float64
}

// Entry is a record paired with its embedding. Vector is nil when the record
// has no stored embedding.
type Entry struct {
	Record
	Vector []float32
}

// Snapshot returns the records of owners together with their embeddings,
// read by a single query so records and vectors always come from the same
// committed snapshot. The language filter behaves as in GetRecords.
func (d *DB) Snapshot(ctx context.Context, owners []string, languages []string) ([]Entry, error) {
	if len(owners) == 0 {
		return nil, nil
	}

	query := `
		SELECT r.username, r.id, r.full_name, r.name, r.owner_login, r.html_url, r.description, r.language,
		       r.stars, r.forks, r.open_issues, r.updated_at, r.created_at, r.raw, v.embedding
		FROM repos r
		LEFT JOIN repo_vectors v ON v.username = r.username AND v.id = r.id
		WHERE r.username IN (` + placeholders(len(owners)) + `)`
	args := stringArgs(owners)
	query, args = appendLanguageFilter(query, args, "r.language", languages)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var blob []byte
		r, err := scanRecord(rowWithTail{rows, &blob})
		if err != nil {
			return nil, err
		}
		e := Entry{Record: *r}
		if blob != nil {
			if e.Vector, err = vector.Decode(blob); err != nil {
				return nil, fmt.Errorf("decoding vector %s/%d: %w", r.Owner, r.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot: %w", err)
	}
	return entries, nil
}

// NearestNeighbors scans every embedding of owners (restricted to records in
// languages, when given) and returns the k closest to query in ascending
// distance. Ties are broken by ascending id, then owner.
func (d *DB) NearestNeighbors(ctx context.Context, owners []string, query []float32, k int, languages []string) ([]Neighbor, error) {
	if k <= 0 || len(owners) == 0 {
		return nil, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("nearest neighbors: empty query vector")
	}

	entries, err := d.Snapshot(ctx, owners, languages)
	if err != nil {
		return nil, err
	}
	return Nearest(entries, query, k)
}

// Nearest ranks the embedded entries by cosine distance to query and returns
// the k closest, ordered as NearestNeighbors orders them. Entries without a
// vector are skipped; a vector of another dimension is an error.
func Nearest(entries []Entry, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("nearest neighbors: empty query vector")
	}

	var neighbors []Neighbor
	for _, e := range entries {
		if e.Vector == nil {
			continue
		}
		if len(e.Vector) != len(query) {
			return nil, fmt.Errorf("%w: stored %d, query %d (refetch with --force after changing models)",
				ErrDimensionMismatch, len(e.Vector), len(query))
		}
		dist, err := vector.CosineDistance(query, e.Vector)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		neighbors = append(neighbors, Neighbor{Owner: e.Owner, ID: e.ID, Distance: dist})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		a, b := neighbors[i], neighbors[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Owner < b.Owner
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// rowWithTail scans the record columns followed by extra trailing columns.
type rowWithTail struct {
	rows *sql.Rows
	tail *[]byte
}

func (r rowWithTail) Scan(dest ...any) error {
	return r.rows.Scan(append(dest, r.tail)...)
}
