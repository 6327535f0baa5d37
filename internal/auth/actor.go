package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking/internal/catalog"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   uuid.UUID
	Role catalog.Role
}

func (a Actor) IsAdmin() bool { return a.Role == catalog.RoleAdmin }

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
