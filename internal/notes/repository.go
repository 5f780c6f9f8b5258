package notes

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/shared"
)

// Repository defines persistence operations for notes.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	ClientOwner(ctx context.Context, clientID int64) (*int64, error)
	Get(ctx context.Context, id int64) (*Note, error)
	ListForClient(ctx context.Context, clientID int64) ([]Note, error)
	MainNote(ctx context.Context, clientID int64) (*Note, error)
	Create(ctx context.Context, n Note) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SoftDelete(ctx context.Context, id int64) error
}

var updatableColumns = []string{"message", "hidden"}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

const selectNote = `
	SELECT n.id, n.client_id, n.user_id, u.first_name || ' ' || u.surname, n.message,
	       n.is_main, n.hidden, n.created_at, n.updated_at
	FROM note n
	JOIN "user" u ON u.id = n.user_id`

func scanNote(row pgx.Row) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.ClientID, &n.UserID, &n.AuthorName, &n.Message, &n.IsMain, &n.Hidden, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// ClientOwner returns the advisor of a live client, nil when unassigned.
func (r *repository) ClientOwner(ctx context.Context, clientID int64) (*int64, error) {
	var owner pgtype.Int8
	err := r.db.QueryRow(ctx, `SELECT user_id FROM client WHERE id = $1 AND deleted_at IS NULL`, clientID).Scan(&owner)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if !owner.Valid {
		return nil, nil
	}
	v := owner.Int64
	return &v, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Note, error) {
	n, err := scanNote(r.db.QueryRow(ctx, selectNote+` WHERE n.id = $1 AND n.deleted_at IS NULL`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *repository) ListForClient(ctx context.Context, clientID int64) ([]Note, error) {
	rows, err := r.db.Query(ctx, selectNote+` WHERE n.client_id = $1 AND n.deleted_at IS NULL ORDER BY n.is_main DESC, n.created_at DESC, n.id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repository) MainNote(ctx context.Context, clientID int64) (*Note, error) {
	n, err := scanNote(r.db.QueryRow(ctx, selectNote+` WHERE n.client_id = $1 AND n.is_main AND n.deleted_at IS NULL`, clientID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (r *repository) Create(ctx context.Context, n Note) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO note (client_id, user_id, message, is_main, hidden)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, n.ClientID, n.UserID, n.Message, n.IsMain, n.Hidden).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: client already has a main note", shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	query := `UPDATE note SET updated_at = NOW()`
	var args []any
	argPos := 1
	for _, col := range updatableColumns {
		v, ok := updates[col]
		if !ok {
			continue
		}
		query += fmt.Sprintf(", %s = $%d", col, argPos)
		args = append(args, v)
		argPos++
	}
	query += fmt.Sprintf(" WHERE id = $%d AND deleted_at IS NULL", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE note SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
