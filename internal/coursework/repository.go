package coursework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads submission data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository wrapper.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LimitsFor loads the submission limits of a content node. The second return
// is false when the node has no limits configured.
func (r *Repository) LimitsFor(ctx context.Context, contentID int64) (Limits, bool, error) {
	if r == nil || r.pool == nil {
		return Limits{}, false, fmt.Errorf("coursework: repository not initialised")
	}
	query := `SELECT content_id, max_submissions, available_from, available_until
FROM content_limits WHERE content_id = $1`
	var l Limits
	var from, until *time.Time
	err := r.pool.QueryRow(ctx, query, contentID).Scan(&l.ContentID, &l.MaxSubmissions, &from, &until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Limits{}, false, nil
		}
		return Limits{}, false, err
	}
	if from != nil {
		l.AvailableFrom = *from
	}
	if until != nil {
		l.AvailableUntil = *until
	}
	return l, true, nil
}

// SubmissionCount counts a subject's recorded attempts on a content node.
func (r *Repository) SubmissionCount(ctx context.Context, contentID int64, subjectID string) (int, error) {
	if r == nil || r.pool == nil {
		return 0, fmt.Errorf("coursework: repository not initialised")
	}
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE content_id = $1 AND subject_id = $2`,
		contentID, subjectID).Scan(&n)
	return n, err
}
