package identity

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role for every account
	RoleUser UserRole = "user"
	// RoleAdmin can manage users, groups, and deployment settings
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	hierarchy := map[UserRole]int{
		RoleUser:  0,
		RoleAdmin: 1,
	}

	current, ok := hierarchy[r]
	if !ok {
		return false
	}

	min, ok := hierarchy[minRole]
	if !ok {
		return false
	}

	return current >= min
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleUser,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
