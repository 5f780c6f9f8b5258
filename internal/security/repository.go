package security

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores throttle records in the security_event table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Stats counts records of the subject inside the window. GlobalKey rows are written once per
// event by the throttle, so the same query serves aggregate checks.
func (r *PGRepository) Stats(ctx context.Context, key string, event EventType, since time.Time) (Stats, error) {
	var (
		count  int
		latest pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), MAX(created_at) FROM security_event WHERE subject_key = $1 AND event_type = $2 AND created_at >= $3`,
		key, string(event), since).Scan(&count, &latest)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Count: count}
	if latest.Valid {
		stats.Latest = latest.Time
	}
	return stats, nil
}

// Insert appends a record.
func (r *PGRepository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO security_event (subject_key, event_type, created_at) VALUES ($1, $2, $3)`,
		rec.SubjectKey, string(rec.Event), rec.CreatedAt)
	return err
}

// Prune deletes records created before the cutoff. Retention must exceed the widest window.
func (r *PGRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_event WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PGRepository)(nil)
