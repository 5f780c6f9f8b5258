package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	FindByEmail(ctx context.Context, email string) (*Credentials, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	CreateReset(ctx context.Context, token uuid.UUID, userID int64, expiresAt time.Time) error
	ResetValid(ctx context.Context, token uuid.UUID, now time.Time) (bool, error)
	ConsumeReset(ctx context.Context, token uuid.UUID, now time.Time) (int64, error)
	SetPassword(ctx context.Context, userID int64, hash string) error
	PruneResets(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// FindByEmail fetches a live account by email, case-insensitively.
func (r *repository) FindByEmail(ctx context.Context, email string) (*Credentials, error) {
	var c Credentials
	err := r.db.QueryRow(ctx, `
		SELECT id, email, first_name, password_hash, status
		FROM "user"
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL`, email).
		Scan(&c.UserID, &c.Email, &c.FirstName, &c.PasswordHash, &c.Status)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateSession persists a login session for auditing.
func (r *repository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_session (id, user_id, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)`,
		id, userID, expiresAt.UTC(),
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""})
	return err
}

func (r *repository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_session WHERE id = $1`, id)
	return err
}

func (r *repository) CreateReset(ctx context.Context, token uuid.UUID, userID int64, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO password_reset (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, expiresAt.UTC())
	return err
}

func (r *repository) ResetValid(ctx context.Context, token uuid.UUID, now time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM password_reset WHERE token = $1 AND used_at IS NULL AND expires_at > $2)`,
		token, now.UTC()).Scan(&ok)
	return ok, err
}

// ConsumeReset marks the token used and returns its user. A token is consumed once.
func (r *repository) ConsumeReset(ctx context.Context, token uuid.UUID, now time.Time) (int64, error) {
	var userID int64
	err := r.db.QueryRow(ctx, `
		UPDATE password_reset SET used_at = $2
		WHERE token = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id`, token, now.UTC()).Scan(&userID)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, ErrInvalidResetToken
		}
		return 0, err
	}
	return userID, nil
}

// SetPassword stores the hash and activates unverified accounts.
func (r *repository) SetPassword(ctx context.Context, userID int64, hash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE "user"
		SET password_hash = $2,
		    status = CASE WHEN status = 'unverified' THEN 'active' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PruneResets deletes tokens that expired before the cutoff.
func (r *repository) PruneResets(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_reset WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
