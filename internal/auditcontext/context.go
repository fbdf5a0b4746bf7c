package auditcontext

import (
	"context"
	"strings"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleSystem = "system"
)

type actorKey struct{}
type roleKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// WithActor stores the acting principal in the context.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

// ActorFromContext returns the actor type and id. Contexts without an actor
// are treated as system calls.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return ActorTypeSystem, ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok || value.actorType == "" {
		return ActorTypeSystem, ""
	}
	return value.actorType, value.actorID
}

// UserIDFromContext returns the acting user id, empty for system actors.
func UserIDFromContext(ctx context.Context) string {
	actorType, actorID := ActorFromContext(ctx)
	if actorType != ActorTypeUser {
		return ""
	}
	return actorID
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, strings.ToLower(strings.TrimSpace(role)))
}

// RoleFromContext resolves the effective role of the actor.
func RoleFromContext(ctx context.Context) string {
	actorType, _ := ActorFromContext(ctx)
	if actorType == ActorTypeSystem {
		return RoleSystem
	}
	role, _ := ctx.Value(roleKey{}).(string)
	if role == "" || role == RoleSystem {
		return RoleMember
	}
	return role
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, strings.TrimSpace(ip))
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ipAddressKey{}).(string)
	return value
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, strings.TrimSpace(userAgent))
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userAgentKey{}).(string)
	return value
}
