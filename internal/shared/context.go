package shared

import "context"

// Actor identifies the authenticated user a request acts as. Authentication
// itself happens upstream of this service; the boundary only carries ids.
type Actor struct {
	UserID    int64
	CompanyID int64
}

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
