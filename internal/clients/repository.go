package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/shared"
)

// Repository defines persistence operations for clients.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64, includeDeleted bool) (*Client, error)
	List(ctx context.Context, req ListClientsRequest) ([]Client, int, error)
	Create(ctx context.Context, c Client) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SoftDelete(ctx context.Context, id int64) error
	Statuses(ctx context.Context) ([]Status, error)
	OwnerOf(ctx context.Context, id int64) (int64, bool, error)
}

// updatableColumns are the columns Update accepts, in statement order.
var updatableColumns = []string{
	"first_name", "last_name", "birthdate", "location", "phone", "email", "sex",
	"client_message", "vulnerable_since", "user_id", "client_status_id", "assigned_at", "deleted_at",
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

const selectClient = `
	SELECT c.id, c.first_name, c.last_name, c.birthdate, c.location, c.phone, c.email, c.sex,
	       c.client_message, c.vulnerable_since, c.user_id,
	       COALESCE(u.first_name || ' ' || u.surname, ''),
	       c.client_status_id, COALESCE(s.name, ''),
	       c.assigned_at, c.created_at, c.updated_at, c.deleted_at
	FROM client c
	LEFT JOIN "user" u ON u.id = c.user_id
	LEFT JOIN client_status s ON s.id = c.client_status_id`

func scanClient(row pgx.Row) (Client, error) {
	var (
		c                          Client
		birthdate, vulnerableSince pgtype.Date
		userID, statusID           pgtype.Int8
		assignedAt, deletedAt      pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &birthdate, &c.Location, &c.Phone, &c.Email, &c.Sex,
		&c.ClientMessage, &vulnerableSince, &userID, &c.OwnerName, &statusID, &c.StatusName,
		&assignedAt, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return Client{}, err
	}
	c.Birthdate = dateValue(birthdate)
	c.VulnerableSince = dateValue(vulnerableSince)
	c.AssignedAt = timestampValue(assignedAt)
	c.DeletedAt = timestampValue(deletedAt)
	if userID.Valid {
		v := userID.Int64
		c.UserID = &v
	}
	if statusID.Valid {
		v := statusID.Int64
		c.ClientStatusID = &v
	}
	return c, nil
}

func dateValue(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func timestampValue(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Get(ctx context.Context, id int64, includeDeleted bool) (*Client, error) {
	query := selectClient + ` WHERE c.id = $1`
	if !includeDeleted {
		query += ` AND c.deleted_at IS NULL`
	}
	c, err := scanClient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) List(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if req.Deleted {
		conditions = append(conditions, "c.deleted_at IS NOT NULL")
	} else {
		conditions = append(conditions, "c.deleted_at IS NULL")
	}
	if req.Unassigned {
		conditions = append(conditions, "c.user_id IS NULL")
	} else if req.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("c.user_id = $%d", argPos))
		args = append(args, *req.UserID)
		argPos++
	}
	if req.StatusID != nil {
		conditions = append(conditions, fmt.Sprintf("c.client_status_id = $%d", argPos))
		args = append(args, *req.StatusID)
		argPos++
	}
	if s := strings.TrimSpace(req.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf("(c.first_name ILIKE $%d OR c.last_name ILIKE $%d OR c.email ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+s+"%")
		argPos++
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM client c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := selectClient + where + fmt.Sprintf(" ORDER BY c.last_name, c.first_name, c.id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, req.Page.Limit(), req.Page.Offset())
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Client) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO client (first_name, last_name, birthdate, location, phone, email, sex,
		                    client_message, vulnerable_since, user_id, client_status_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		c.FirstName, c.LastName, c.Birthdate, c.Location, c.Phone, c.Email, c.Sex,
		c.ClientMessage, c.VulnerableSince, c.UserID, c.ClientStatusID, c.AssignedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update writes the given columns. Setting deleted_at restores or removes the client, so the
// statement does not filter on it.
func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	query := `UPDATE client SET updated_at = NOW()`
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
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
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
	tag, err := r.db.Exec(ctx, `UPDATE client SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Statuses(ctx context.Context) ([]Status, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM client_status ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// OwnerOf reports the assigned advisor of a client. Unassigned clients have no owner.
func (r *repository) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	var owner pgtype.Int8
	err := r.db.QueryRow(ctx, `SELECT user_id FROM client WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return owner.Int64, owner.Valid, nil
}
