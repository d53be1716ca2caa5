package actions

import (
	"context"
	"fmt"

	"github.com/stackdesk/stackdesk/internal/identity"
)

// Validation capabilities shared by the concrete action types. Each is an
// independent check the type's validation routine calls explicitly; a
// false return means the check failed and a note was already logged.

// checkScope verifies the requester's claimed project and domain match the
// target. Requesters holding the elevated role bypass the check.
func checkScope(rt *Runtime, targetProjectID, targetDomainID string) bool {
	claims := rt.Requester()
	if claims.IsAdmin() {
		return true
	}
	if targetProjectID != "" && targetProjectID != claims.ProjectID {
		rt.AddNote(fmt.Sprintf("Project %s does not match requester scope.", targetProjectID))
		return false
	}
	if targetDomainID != "" && targetDomainID != claims.DomainID {
		rt.AddNote(fmt.Sprintf("Domain %s does not match requester scope.", targetDomainID))
		return false
	}
	return true
}

// checkRolePermission verifies every role in roles is manageable by the
// requester under the configured mapping. Blacklisted roles always fail.
func checkRolePermission(rt *Runtime, roles []string) bool {
	ok := true
	for _, role := range roles {
		if !rt.Roles.CanManage(rt.Requester().Roles, role) {
			rt.AddNote(fmt.Sprintf("Role '%s' is not grantable by the requester.", role))
			ok = false
		}
	}
	return ok
}

// checkProjectExists confirms the project is present in the backend.
// Absence logs a note and fails the check.
func checkProjectExists(ctx context.Context, rt *Runtime, projectID string) (*identity.Project, bool, error) {
	project, err := rt.Gateway.GetProject(ctx, projectID)
	if err != nil {
		return nil, false, err
	}
	if project == nil {
		rt.AddNote(fmt.Sprintf("No project found with id '%s'.", projectID))
		return nil, false, nil
	}
	return project, true, nil
}

// checkProjectAbsent confirms no project with the given name exists in the
// domain; for creation actions absence is the valid branch.
func checkProjectAbsent(ctx context.Context, rt *Runtime, name, domainID string) (bool, error) {
	project, err := rt.Gateway.FindProject(ctx, name, domainID)
	if err != nil {
		return false, err
	}
	if project != nil {
		rt.AddNote(fmt.Sprintf("Existing project with name '%s'.", name))
		return false, nil
	}
	return true, nil
}

// findRoles resolves role names to backend role definitions. A missing
// role logs a note and fails the check.
func findRoles(ctx context.Context, rt *Runtime, names []string) (map[string]*identity.Role, bool, error) {
	resolved := make(map[string]*identity.Role, len(names))
	ok := true
	for _, name := range names {
		role, err := rt.Gateway.FindRole(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if role == nil {
			rt.AddNote(fmt.Sprintf("Role '%s' does not exist.", name))
			ok = false
			continue
		}
		resolved[name] = role
	}
	return resolved, ok, nil
}

// userRoleNames lists the names of the roles a user holds on a project.
func userRoleNames(ctx context.Context, rt *Runtime, userID, projectID string) (map[string]bool, error) {
	roles, err := rt.Gateway.ListUserRoles(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(roles))
	for _, r := range roles {
		held[r.Name] = true
	}
	return held, nil
}
