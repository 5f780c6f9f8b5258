package roles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/authz"
)

// Repository reads the user_role table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles, most privileged first.
func (r *Repository) ListRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, hierarchy FROM user_role ORDER BY hierarchy`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []authz.Role
	for rows.Next() {
		var (
			role authz.Role
			name string
		)
		if err := rows.Scan(&role.ID, &name, &role.Hierarchy); err != nil {
			return nil, err
		}
		role.Name = authz.RoleName(name)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

var _ authz.RoleStore = (*Repository)(nil)
