package contexthelpers

import (
	"context"
	"net/http"
)

// WithUser returns a copy of ctx carrying the session user.
func WithUser(ctx context.Context, userID int64, tier string) context.Context {
	ctx = context.WithValue(ctx, AuthenticatedUserIDContextKey, userID)
	return context.WithValue(ctx, UserTierContextKey, tier)
}

// AuthenticateContext stores the anonymous session user on the request context.
func AuthenticateContext(r *http.Request, userID int64, tier string) *http.Request {
	return r.WithContext(WithUser(r.Context(), userID, tier))
}

func SetAdmin(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), IsAdminContextKey, true))
}
