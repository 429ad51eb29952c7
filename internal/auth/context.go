package auth

import "context"

type contextKey struct{}

const (
	RoleParent = "parent"
	RoleChild  = "child"
)

// Identity is the caller as asserted by the identity provider. ChildID is
// zero for parents.
type Identity struct {
	FamilyID int64
	ChildID  int64
	Role     string
}

func (id Identity) IsParent() bool {
	return id.Role == RoleParent
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func FamilyID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.FamilyID
}

func ChildID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.ChildID
}

func IsParent(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return id.IsParent()
}
