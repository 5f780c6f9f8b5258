package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists activity entries.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Item, error)
}

// PGRepository stores entries in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends an entry.
func (r *PGRepository) Insert(ctx context.Context, e Entry) error {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("activity: encode data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO user_activity (user_id, action, table_name, row_id, data) VALUES ($1, $2, $3, $4, $5)`,
		pgtype.Int8{Int64: e.UserID, Valid: e.UserID != 0}, e.Action, e.Table,
		pgtype.Int8{Int64: e.RowID, Valid: e.RowID != 0}, payload)
	return err
}

// Recent returns the newest entries first.
func (r *PGRepository) Recent(ctx context.Context, limit int) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, COALESCE(a.user_id, 0), COALESCE(u.first_name || ' ' || u.surname, ''),
		       a.action, a.table_name, COALESCE(a.row_id, 0), a.data, a.created_at
		FROM user_activity a
		LEFT JOIN "user" u ON u.id = a.user_id
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			it   Item
			data []byte
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.UserName, &it.Action, &it.Table, &it.RowID, &data, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Data = json.RawMessage(data)
		items = append(items, it)
	}
	return items, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
