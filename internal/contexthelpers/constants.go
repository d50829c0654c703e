package contexthelpers

type contextKey string

const AuthenticatedUserIDContextKey = contextKey("authenticatedUserID")
const UserTierContextKey = contextKey("userTier")
const IsAdminContextKey = contextKey("isAdmin")
