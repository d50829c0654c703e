package contexthelpers

import (
	"context"
)

// AuthenticatedUserID returns the session user's id or 0 when the request has no user.
func AuthenticatedUserID(ctx context.Context) int64 {
	userID, ok := ctx.Value(AuthenticatedUserIDContextKey).(int64)
	if !ok {
		return 0
	}

	return userID
}

// UserTier returns the session user's tier. Defaults to "free".
func UserTier(ctx context.Context) string {
	tier, ok := ctx.Value(UserTierContextKey).(string)
	if !ok || tier == "" {
		return "free"
	}
	return tier
}

func IsAdmin(ctx context.Context) bool {
	isAdmin, ok := ctx.Value(IsAdminContextKey).(bool)
	if !ok {
		return false
	}
	return isAdmin
}
