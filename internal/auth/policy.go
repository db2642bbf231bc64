package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request. Reads need any
// known role; shift and tank writes need a station manager or above.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	if !strings.HasPrefix(path, "/api/") {
		return "", false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleAuditor, true
	}
	switch {
	case strings.HasPrefix(path, "/api/v1/stations/") && strings.HasSuffix(path, "/shifts"):
		return RoleStationManager, true
	case strings.HasPrefix(path, "/api/v1/shifts/") && strings.HasSuffix(path, "/close"):
		return RoleStationManager, true
	case strings.HasPrefix(path, "/api/v1/tanks/") && strings.HasSuffix(path, "/deliveries"):
		return RoleStationManager, true
	}
	return RoleSuperAdmin, true
}
