package auditctx

import "context"

// Actor captures the request metadata recorded with every security audit event.
type Actor struct {
	UserID    string
	Username  string
	IPAddress string
	UserAgent string
	RequestID string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context, returning a derived context that
// callers can pass down into service layers for audit logging.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// WithSubject records the authenticated user on top of any request metadata already present.
func WithSubject(ctx context.Context, userID, username string) context.Context {
	actor, _ := FromContext(ctx)
	actor.UserID = userID
	actor.Username = username
	return WithActor(ctx, actor)
}
