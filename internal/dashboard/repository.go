package dashboard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads panel data and stores the panel settings.
type Repository interface {
	Settings(ctx context.Context, userID int64) (map[Panel]bool, error)
	SaveSetting(ctx context.Context, userID int64, panel Panel, enabled bool) error
	UnassignedClients(ctx context.Context, limit int) ([]ClientItem, error)
	ClientsOf(ctx context.Context, userID int64, limit int) ([]ClientItem, error)
	RecentlyAssigned(ctx context.Context, since time.Time, limit int) ([]ClientItem, error)
	RecentNotes(ctx context.Context, ownerID int64, includeHidden bool, limit int) ([]NoteItem, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Settings(ctx context.Context, userID int64) (map[Panel]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT panel, enabled FROM user_filter_setting WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Panel]bool)
	for rows.Next() {
		var (
			panel   string
			enabled bool
		)
		if err := rows.Scan(&panel, &enabled); err != nil {
			return nil, err
		}
		out[Panel(panel)] = enabled
	}
	return out, rows.Err()
}

func (r *repository) SaveSetting(ctx context.Context, userID int64, panel Panel, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_filter_setting (user_id, panel, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, panel) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		userID, string(panel), enabled)
	return err
}

const selectClientItem = `
	SELECT c.id, c.first_name || ' ' || c.last_name,
	       COALESCE(u.first_name || ' ' || u.surname, ''), COALESCE(s.name, ''),
	       c.assigned_at, c.created_at
	FROM client c
	LEFT JOIN "user" u ON u.id = c.user_id
	LEFT JOIN client_status s ON s.id = c.client_status_id`

func collectClients(rows pgx.Rows, err error) ([]ClientItem, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClientItem
	for rows.Next() {
		var (
			item       ClientItem
			assignedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.OwnerName, &item.StatusName, &assignedAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		if assignedAt.Valid {
			t := assignedAt.Time
			item.AssignedAt = &t
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *repository) UnassignedClients(ctx context.Context, limit int) ([]ClientItem, error) {
	return collectClients(r.pool.Query(ctx, selectClientItem+`
		WHERE c.user_id IS NULL AND c.deleted_at IS NULL
		ORDER BY c.created_at DESC LIMIT $1`, limit))
}

func (r *repository) ClientsOf(ctx context.Context, userID int64, limit int) ([]ClientItem, error) {
	return collectClients(r.pool.Query(ctx, selectClientItem+`
		WHERE c.user_id = $1 AND c.deleted_at IS NULL
		ORDER BY c.last_name, c.first_name LIMIT $2`, userID, limit))
}

func (r *repository) RecentlyAssigned(ctx context.Context, since time.Time, limit int) ([]ClientItem, error) {
	return collectClients(r.pool.Query(ctx, selectClientItem+`
		WHERE c.assigned_at >= $1 AND c.user_id IS NOT NULL AND c.deleted_at IS NULL
		ORDER BY c.assigned_at DESC LIMIT $2`, since, limit))
}

// RecentNotes lists the newest notes on the clients of ownerID. Hidden notes of other
// authors are skipped unless includeHidden.
func (r *repository) RecentNotes(ctx context.Context, ownerID int64, includeHidden bool, limit int) ([]NoteItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT n.id, n.client_id, c.first_name || ' ' || c.last_name, u.first_name || ' ' || u.surname,
		       n.message, n.created_at
		FROM note n
		JOIN client c ON c.id = n.client_id
		JOIN "user" u ON u.id = n.user_id
		WHERE c.user_id = $1 AND c.deleted_at IS NULL AND n.deleted_at IS NULL
		  AND ($2 OR NOT n.hidden OR n.user_id = $1)
		ORDER BY n.created_at DESC LIMIT $3`, ownerID, includeHidden, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NoteItem
	for rows.Next() {
		var item NoteItem
		if err := rows.Scan(&item.ID, &item.ClientID, &item.ClientName, &item.AuthorName, &item.Message, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
