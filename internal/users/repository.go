package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/shared"
)

// Repository defines persistence operations for users.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*User, error)
	List(ctx context.Context, req ListUsersRequest) ([]User, int, error)
	Create(ctx context.Context, u User) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SetPassword(ctx context.Context, id int64, hash string) error
	SoftDelete(ctx context.Context, id int64) error
}

// updatableColumns are the columns Update accepts, in statement order.
var updatableColumns = []string{"first_name", "surname", "email", "user_role_id", "status", "theme", "language"}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// PGRepository is the PostgreSQL implementation. It also serves as the account directory of
// the principal middleware.
type PGRepository struct {
	repository
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{repository{db: pool, pool: pool}}
}

const selectUser = `
	SELECT u.id, u.first_name, u.surname, u.email, u.user_role_id, r.name, u.status,
	       u.theme, u.language, u.password_hash, u.created_at, u.updated_at, u.deleted_at
	FROM "user" u
	JOIN user_role r ON r.id = u.user_role_id`

func scanUser(row pgx.Row) (User, error) {
	var (
		u         User
		role      string
		status    string
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.Surname, &u.Email, &u.RoleID, &role, &status,
		&u.Theme, &u.Language, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &deletedAt); err != nil {
		return User{}, err
	}
	u.Role = authz.RoleName(role)
	u.Status = Status(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Get(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUser+` WHERE u.id = $1 AND u.deleted_at IS NULL`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) List(ctx context.Context, req ListUsersRequest) ([]User, int, error) {
	conditions := []string{"u.deleted_at IS NULL"}
	var args []any
	argPos := 1

	if req.OnlyID != 0 {
		conditions = append(conditions, fmt.Sprintf("u.id = $%d", argPos))
		args = append(args, req.OnlyID)
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("u.status = $%d", argPos))
		args = append(args, string(req.Status))
		argPos++
	}
	if s := strings.TrimSpace(req.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf("(u.first_name ILIKE $%d OR u.surname ILIKE $%d OR u.email ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+s+"%")
		argPos++
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM "user" u`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := selectUser + where + fmt.Sprintf(" ORDER BY u.surname, u.first_name, u.id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, req.Page.Limit(), req.Page.Offset())
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, u User) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO "user" (first_name, surname, email, user_role_id, status, theme, language, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		u.FirstName, u.Surname, u.Email, u.RoleID, string(u.Status), u.Theme, u.Language, u.PasswordHash).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: email already in use", shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	query := `UPDATE "user" SET updated_at = NOW()`
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
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: email already in use", shared.ErrConflict)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE "user" SET password_hash = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE "user" SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Account loads the principal of an active user.
func (r *PGRepository) Account(ctx context.Context, userID int64) (rbac.Account, error) {
	u, err := r.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Account{}, rbac.ErrAccountUnavailable
		}
		return rbac.Account{}, fmt.Errorf("users: load account %d: %w", userID, err)
	}
	if u.Status != StatusActive {
		return rbac.Account{}, rbac.ErrAccountUnavailable
	}
	return rbac.Account{
		UserID:    u.ID,
		Role:      u.Role,
		FirstName: u.FirstName,
		Surname:   u.Surname,
		Email:     u.Email,
		Theme:     u.Theme,
		Language:  u.Language,
	}, nil
}

var (
	_ Repository     = (*PGRepository)(nil)
	_ rbac.Directory = (*PGRepository)(nil)
)
