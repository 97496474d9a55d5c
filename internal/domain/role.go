package domain

// Role names carried in the account record and in token claims.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// ValidRole reports whether r is one of the modeled roles.
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAdmin
}
