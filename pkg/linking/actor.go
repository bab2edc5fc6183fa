package linking

import "context"

type actorKey struct{}

// WithActor returns a context carrying the id of the user performing an
// operation. It fills CreatedBy and VerifiedBy of the spans written.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor returns the user id stored by WithActor, or "".
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}
