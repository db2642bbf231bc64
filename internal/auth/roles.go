package auth

// Role represents a user role.
type Role string

const (
	RoleAuditor         Role = "auditor"
	RoleStationManager  Role = "station_manager"
	RoleFinanceDirector Role = "finance_director"
	RoleCEO             Role = "ceo"
	RoleSuperAdmin      Role = "super_admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAuditor, RoleStationManager, RoleFinanceDirector, RoleCEO, RoleSuperAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

// NetworkWide reports whether the role sees every station.
func NetworkWide(role Role) bool {
	return roleRank(role) >= roleRank(RoleFinanceDirector)
}

func roleRank(role Role) int {
	switch role {
	case RoleAuditor:
		return 1
	case RoleStationManager:
		return 2
	case RoleFinanceDirector, RoleCEO:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}
