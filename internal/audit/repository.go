package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository persists the decision trail in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a repository wrapper.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryColumns = `id, at, subject, kind, resource_id, action, allowed, reason, matched_rank, matched_type, matched_scope, matched_role, source`

// Insert writes a batch of entries in one round trip.
func (r *PgRepository) Insert(ctx context.Context, entries []Entry) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("audit: repository not initialised")
	}
	if len(entries) == 0 {
		return nil
	}
	query := `INSERT INTO decision_audit (` + entryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.ID, e.At, e.Subject, e.Kind, e.ResourceID, e.Action, e.Allowed,
			e.Reason, e.Rank, e.MatchedType, e.MatchedScope, e.MatchedRole, e.Source)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Window loads one page of entries, newest first.
func (r *PgRepository) Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("audit: repository not initialised")
	}
	query := `SELECT ` + entryColumns + ` FROM decision_audit`
	var where []string
	var args []any
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("at <= $%d", len(args)))
	}
	if f.Subject != "" {
		args = append(args, f.Subject)
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.Allowed != nil {
		args = append(args, *f.Allowed)
		where = append(where, fmt.Sprintf("allowed = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY at DESC, id LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Subject, &e.Kind, &e.ResourceID, &e.Action,
			&e.Allowed, &e.Reason, &e.Rank, &e.MatchedType, &e.MatchedScope, &e.MatchedRole, &e.Source); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries recorded before the cutoff and reports how many.
func (r *PgRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, fmt.Errorf("audit: repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM decision_audit WHERE at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
