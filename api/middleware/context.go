package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID     contextKey = "user_id"
	ctxRole       contextKey = "actor_role"
	ctxBusinessID contextKey = "business_id"
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

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// BusinessIDFromContext returns the business a merchant token acts for.
func BusinessIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(ctxBusinessID).(uuid.UUID)
	return v, ok && v != uuid.Nil
}

// Actor renders the caller as "<role>:<user id>" for audit columns and event envelopes.
func Actor(ctx context.Context) string {
	role := RoleFromContext(ctx)
	user := UserIDFromContext(ctx)
	if role == "" && user == "" {
		return "anonymous"
	}
	return string(role) + ":" + user
}

// WithIdentity injects caller identity; used by Auth and by handler tests.
func WithIdentity(ctx context.Context, userID string, role enums.ActorRole, businessID *uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if businessID != nil {
		ctx = context.WithValue(ctx, ctxBusinessID, *businessID)
	}
	return ctx
}
