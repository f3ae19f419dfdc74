package shared

// Platform roles. Approval chain steps and route gates reference these names.
const (
	RoleAdmin      = "ADMIN"
	RoleFinance    = "FINANCE"
	RoleProduction = "PRODUCTION"
	RoleSales      = "SALES"
)

// AllRoles lists every role the platform recognises.
func AllRoles() []string {
	return []string{RoleAdmin, RoleFinance, RoleProduction, RoleSales}
}

// KnownRole reports whether name is a recognised role.
func KnownRole(name string) bool {
	switch name {
	case RoleAdmin, RoleFinance, RoleProduction, RoleSales:
		return true
	}
	return false
}
