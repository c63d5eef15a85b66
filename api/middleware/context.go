package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/musicx/musicx-backend/pkg/enums"
	"github.com/musicx/musicx-backend/pkg/outbox"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// UserUUIDFromContext returns the authenticated user id, or false when the
// request carries none.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.UserRole); ok {
		return v
	}
	return ""
}

func IsAdmin(ctx context.Context) bool {
	return RoleFromContext(ctx) == enums.UserRoleAdmin
}

// ActorFromContext builds the outbox actor for events raised by this request.
func ActorFromContext(ctx context.Context) *outbox.ActorRef {
	id, ok := UserUUIDFromContext(ctx)
	if !ok {
		return nil
	}
	return &outbox.ActorRef{UserID: id, Role: string(RoleFromContext(ctx))}
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the caller role into the context.
func WithRole(ctx context.Context, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
