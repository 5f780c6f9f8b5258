package authz

import "context"

// OwnershipResolver returns the user responsible for a resource. ok is false when the
// resource does not exist or is unassigned.
type OwnershipResolver interface {
	OwnerOf(ctx context.Context, id int64) (owner int64, ok bool, err error)
}

// OwnerFunc adapts a function to OwnershipResolver.
type OwnerFunc func(ctx context.Context, id int64) (int64, bool, error)

// OwnerOf calls f.
func (f OwnerFunc) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	return f(ctx, id)
}

// SelfOwned resolves every id to itself, e.g. a user owns their own account.
var SelfOwned = OwnerFunc(func(_ context.Context, id int64) (int64, bool, error) {
	return id, id != 0, nil
})
