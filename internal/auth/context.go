package auth

import "context"

type contextKey string

const (
	contextKeyStation contextKey = "auth.station_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// Identity is the caller extracted from a verified token.
type Identity struct {
	Subject   string
	Role      Role
	StationID string
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyStation, id.StationID)
	ctx = context.WithValue(ctx, contextKeyRole, id.Role)
	ctx = context.WithValue(ctx, contextKeySubject, id.Subject)
	return ctx
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) Identity {
	return Identity{
		Subject:   SubjectFromContext(ctx),
		Role:      RoleFromContext(ctx),
		StationID: StationIDFromContext(ctx),
	}
}

// StationIDFromContext extracts the station scope from context.
func StationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if stationID, ok := ctx.Value(contextKeyStation).(string); ok {
		return stationID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}
