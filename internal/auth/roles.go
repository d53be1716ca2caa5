package auth

import "slices"

// RoleMap maps a requester role to the set of roles it is allowed to
// grant or revoke through the self-service path. The mapping is built once
// at process start and never mutated afterwards.
type RoleMap map[string][]string

// RoleBlacklist lists roles that are never grantable through this service
// regardless of the configured mapping.
var RoleBlacklist = []string{AdminRole}

// DefaultRoleMap returns the built-in managed-role mapping used when no
// mapping file is configured.
func DefaultRoleMap() RoleMap {
	return RoleMap{
		AdminRole:       {"project_admin", "project_mod", "member", "heat_stack_owner"},
		"project_admin": {"project_admin", "project_mod", "member", "heat_stack_owner"},
		"project_mod":   {"member", "heat_stack_owner"},
	}
}

// Blacklisted reports whether a role may never be granted here.
func Blacklisted(role string) bool {
	return slices.Contains(RoleBlacklist, role)
}

// CanManage reports whether any of the requester's roles permits managing
// the target role. Blacklisted roles are refused unconditionally.
func (m RoleMap) CanManage(requesterRoles []string, target string) bool {
	if Blacklisted(target) {
		return false
	}
	for _, held := range requesterRoles {
		if slices.Contains(m[held], target) {
			return true
		}
	}
	return false
}

// ManageableRoles returns the union of roles the requester may manage,
// with blacklisted roles removed.
func (m RoleMap) ManageableRoles(requesterRoles []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, held := range requesterRoles {
		for _, target := range m[held] {
			if Blacklisted(target) || seen[target] {
				continue
			}
			seen[target] = true
			out = append(out, target)
		}
	}
	return out
}
