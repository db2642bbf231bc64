package auth

import (
	"context"
	"errors"
)

// ErrStationScope indicates the caller is bound to a different station.
var ErrStationScope = errors.New("auth: station outside caller scope")

// EnsureStationScope verifies the caller in ctx may act on stationID.
// Network-wide roles and callers without a station claim pass. A context
// without identity passes too, so unauthenticated deployments keep working.
func EnsureStationScope(ctx context.Context, stationID string) error {
	id := IdentityFromContext(ctx)
	if id.Role == "" || NetworkWide(id.Role) || id.StationID == "" {
		return nil
	}
	if id.StationID != stationID {
		return ErrStationScope
	}
	return nil
}
