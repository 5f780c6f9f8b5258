// Package rbac turns the session user into an authorization principal and guards routes by
// role hierarchy.
package rbac

import (
	"context"
	"errors"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/view"
)

// ErrAccountUnavailable is returned by a Directory for missing, deleted or inactive users.
var ErrAccountUnavailable = errors.New("rbac: account unavailable")

// Account is the authenticated user as seen by the request pipeline.
type Account struct {
	UserID    int64
	Role      authz.RoleName
	FirstName string
	Surname   string
	Email     string
	Theme     string
	Language  string
}

// Principal projects the account for authorization decisions.
func (a Account) Principal() authz.Principal {
	return authz.Principal{UserID: a.UserID, Role: a.Role}
}

// DisplayName joins the first name and surname.
func (a Account) DisplayName() string {
	if a.Surname == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.Surname
}

// Directory loads accounts of active users.
type Directory interface {
	Account(ctx context.Context, userID int64) (Account, error)
}

type accountContextKey struct{}

// ContextWithAccount stores the account in context.
func ContextWithAccount(ctx context.Context, acc Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, acc)
}

// AccountFromContext returns the authenticated account.
func AccountFromContext(ctx context.Context) (Account, bool) {
	acc, ok := ctx.Value(accountContextKey{}).(Account)
	return acc, ok
}

// PrincipalFromContext returns the principal of the request; the zero principal when anonymous.
func PrincipalFromContext(ctx context.Context) authz.Principal {
	acc, ok := AccountFromContext(ctx)
	if !ok {
		return authz.Principal{}
	}
	return acc.Principal()
}

// ViewUser projects the request account for the layout; nil when anonymous.
func ViewUser(ctx context.Context) *view.CurrentUser {
	acc, ok := AccountFromContext(ctx)
	if !ok {
		return nil
	}
	return &view.CurrentUser{
		ID:       acc.UserID,
		Name:     acc.DisplayName(),
		Role:     acc.Role,
		Theme:    acc.Theme,
		Language: acc.Language,
	}
}
