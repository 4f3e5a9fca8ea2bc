package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/vector"
)

// Record is one cached starred repository, scoped to the owner who starred it.
type Record struct {
	Owner       string
	ID          int64
	FullName    string
	Name        string
	OwnerLogin  string
	URL         string
	Description *string
	Language    *string
	Stars       int64
	Forks       *int64
	OpenIssues  *int64
	UpdatedAt   string
	CreatedAt   *string
	Raw         json.RawMessage
}

// ReplaceOwnerSnapshot deletes every record and embedding belonging to owner
// and inserts records with their vectors, all in one transaction. The owner's
// last refresh time is advanced to refreshedAt in the same transaction. On any
// error the transaction is rolled back and the previous snapshot is untouched.
func (d *DB) ReplaceOwnerSnapshot(ctx context.Context, owner string, records []Record, vectors [][]float32, refreshedAt time.Time) error {
	if owner == "" {
		return fmt.Errorf("replacing snapshot: empty owner")
	}
	if len(records) != len(vectors) {
		return fmt.Errorf("replacing snapshot for %s: %d records but %d vectors", owner, len(records), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("replacing snapshot for %s: empty vector for record %d", owner, i)
		}
		if len(v) != len(vectors[0]) {
			return fmt.Errorf("replacing snapshot for %s: %w: record %d has %d dimensions, expected %d",
				owner, ErrDimensionMismatch, i, len(v), len(vectors[0]))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	// The owner row must exist before repos can reference it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owners (username, last_refresh) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET last_refresh = MAX(owners.last_refresh, excluded.last_refresh)`,
		owner, refreshedAt.Unix(),
	); err != nil {
		return fmt.Errorf("updating cache metadata for %s: %w", owner, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM repo_vectors WHERE username = ?`, owner); err != nil {
		return fmt.Errorf("deleting vectors for %s: %w", owner, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM repos WHERE username = ?`, owner); err != nil {
		return fmt.Errorf("deleting records for %s: %w", owner, err)
	}

	repoStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repos (username, id, full_name, name, owner_login, html_url, description, language,
		                   stars, forks, open_issues, updated_at, created_at, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing record insert: %w", err)
	}
	defer repoStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo_vectors (username, id, dimension, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing vector insert: %w", err)
	}
	defer vecStmt.Close()

	for i, r := range records {
		if _, err := repoStmt.ExecContext(ctx,
			owner, r.ID, r.FullName, r.Name, r.OwnerLogin, r.URL,
			nullStrPtr(r.Description), nullStrPtr(r.Language),
			r.Stars, nullInt64Ptr(r.Forks), nullInt64Ptr(r.OpenIssues),
			r.UpdatedAt, nullStrPtr(r.CreatedAt), string(r.Raw),
		); err != nil {
			return fmt.Errorf("inserting record %s (%d): %w", r.FullName, r.ID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, owner, r.ID, len(vectors[i]), vector.Encode(vectors[i])); err != nil {
			return fmt.Errorf("inserting vector for %s (%d): %w", r.FullName, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot for %s: %w", owner, err)
	}
	return nil
}

const recordColumns = `username, id, full_name, name, owner_login, html_url, description, language,
	stars, forks, open_issues, updated_at, created_at, raw`

// GetRecords returns the records of owners. When languages is non-empty only
// records whose language matches one of them, ignoring case, are returned.
// No ordering is guaranteed.
func (d *DB) GetRecords(ctx context.Context, owners []string, languages []string) ([]Record, error) {
	if len(owners) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + ` FROM repos WHERE username IN (` + placeholders(len(owners)) + `)`
	args := stringArgs(owners)
	query, args = appendLanguageFilter(query, args, "language", languages)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// GetRecord looks up a record by full name ("owner/repo"), ignoring case.
// When owner is empty every cached owner is searched and the first match in
// username order wins.
func (d *DB) GetRecord(ctx context.Context, owner, fullName string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM repos WHERE LOWER(full_name) = LOWER(?)`
	args := []any{fullName}
	if owner != "" {
		query += ` AND username = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY username LIMIT 1`

	r, err := scanRecord(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Kind: "repo", Key: fullName}
		}
		return nil, err
	}
	return r, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var description, language, createdAt sql.NullString
	var forks, openIssues sql.NullInt64
	var raw string

	err := row.Scan(
		&r.Owner, &r.ID, &r.FullName, &r.Name, &r.OwnerLogin, &r.URL,
		&description, &language, &r.Stars, &forks, &openIssues,
		&r.UpdatedAt, &createdAt, &raw,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	r.Description = strPtr(description)
	r.Language = strPtr(language)
	r.CreatedAt = strPtr(createdAt)
	r.Forks = int64Ptr(forks)
	r.OpenIssues = int64Ptr(openIssues)
	r.Raw = json.RawMessage(raw)

	return &r, nil
}

// appendLanguageFilter adds a case-insensitive IN clause on column.
func appendLanguageFilter(query string, args []any, column string, languages []string) (string, []any) {
	if len(languages) == 0 {
		return query, args
	}
	query += ` AND LOWER(` + column + `) IN (` + placeholders(len(languages)) + `)`
	for _, lang := range languages {
		args = append(args, strings.ToLower(lang))
	}
	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullStrPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64Ptr(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
