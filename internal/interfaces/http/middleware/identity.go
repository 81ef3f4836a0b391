package middleware

import (
	"context"
	"net/http"

	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	isAdminKey contextKey = "is_admin"
)

// UserIDHeader carries the caller identity asserted by the upstream gateway.
const UserIDHeader = "X-User-Id"

// Identity lifts the gateway-asserted caller identity into the request
// context.  adminHeader names the header whose non-empty value marks the
// caller as holding the admin (review) capability; authentication itself is
// the gateway's job, this service only consumes the asserted claims.
func Identity(adminHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if user := r.Header.Get(UserIDHeader); user != "" {
				ctx = context.WithValue(ctx, userIDKey, common.UserID(user))
			}
			if adminHeader != "" && r.Header.Get(adminHeader) != "" {
				ctx = context.WithValue(ctx, isAdminKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextGetUserID returns the caller identity, or "" when none was asserted.
func ContextGetUserID(ctx context.Context) common.UserID {
	if v, ok := ctx.Value(userIDKey).(common.UserID); ok {
		return v
	}
	return ""
}

// ContextIsAdmin reports whether the caller holds the admin capability.
func ContextIsAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(isAdminKey).(bool)
	return ok && v
}
