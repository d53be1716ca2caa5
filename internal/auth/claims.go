package auth

import "slices"

// AdminRole bypasses scope checks and may never be granted through the
// self-service path.
const AdminRole = "admin"

// Claims captures the requester identity produced by the authentication
// middleware. The core never parses raw credentials; it only consumes
// these validated claims.
type Claims struct {
	UserID    string   `json:"user_id" mapstructure:"user_id"`
	Username  string   `json:"username" mapstructure:"username"`
	ProjectID string   `json:"project_id" mapstructure:"project_id"`
	DomainID  string   `json:"domain_id" mapstructure:"domain_id"`
	Roles     []string `json:"roles" mapstructure:"roles"`
	IPAddress string   `json:"ip_address,omitempty" mapstructure:"ip_address"`
}

// HasRole reports whether the claims include the named role.
func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// IsAdmin reports whether the requester holds the elevated role that
// bypasses project/domain scope checks.
func (c Claims) IsAdmin() bool {
	return c.HasRole(AdminRole)
}
