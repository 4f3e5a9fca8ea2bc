package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Owner is a user whose stars are cached.
type Owner struct {
	Username    string
	LastRefresh time.Time
	RecordCount int
}

// ListOwners returns every owner with cached data, ordered by username.
func (d *DB) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT o.username, o.last_refresh, COUNT(r.id)
		FROM owners o
		LEFT JOIN repos r ON r.username = o.username
		GROUP BY o.username
		ORDER BY o.username`)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer rows.Close()

	var owners []Owner
	for rows.Next() {
		var o Owner
		var lastRefresh int64
		if err := rows.Scan(&o.Username, &lastRefresh, &o.RecordCount); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		o.LastRefresh = time.Unix(lastRefresh, 0).UTC()
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// LastRefresh returns when owner was last ingested successfully. The boolean
// is false if owner has never been fetched.
func (d *DB) LastRefresh(ctx context.Context, owner string) (time.Time, bool, error) {
	var lastRefresh int64
	err := d.db.QueryRowContext(ctx,
		`SELECT last_refresh FROM owners WHERE username = ?`, owner,
	).Scan(&lastRefresh)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading last refresh for %s: %w", owner, err)
	}
	return time.Unix(lastRefresh, 0).UTC(), true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
