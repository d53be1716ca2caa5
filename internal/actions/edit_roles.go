package actions

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// EditRolesActionName tags the role grant/revoke action.
const EditRolesActionName = "edit_roles"

// EditRolesData is the payload slice the edit-roles action consumes.
type EditRolesData struct {
	UserID      string   `mapstructure:"user_id"`
	ProjectID   string   `mapstructure:"project_id"`
	AddRoles    []string `mapstructure:"add_roles"`
	RemoveRoles []string `mapstructure:"remove_roles"`
}

// EditRolesAction grants and revokes managed roles for an existing user on
// a project. When every requested change already holds the action
// completes without touching the backend.
type EditRolesAction struct {
	data EditRolesData
}

// NewEditRolesAction decodes the payload into an edit-roles action.
func NewEditRolesAction(input models.FieldMap) (Action, error) {
	var data EditRolesData
	if err := mapstructure.Decode(map[string]any(input), &data); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", EditRolesActionName, err)
	}
	return &EditRolesAction{data: data}, nil
}

func (a *EditRolesAction) Name() string { return EditRolesActionName }

func (a *EditRolesAction) RequiredFields() []string {
	return []string{"user_id", "project_id"}
}

func (a *EditRolesAction) TokenFields() []string { return nil }

func (a *EditRolesAction) PreApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	return nil
}

func (a *EditRolesAction) PostApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	if !valid {
		return nil
	}

	if rt.Model.State == models.ActionStateComplete {
		rt.SetNeedToken(false)
		rt.AddNote("Requested role changes already hold.")
		return nil
	}

	resolved, ok, err := findRoles(ctx, rt, append(append([]string{}, a.data.AddRoles...), a.data.RemoveRoles...))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("edit roles: role definitions disappeared")
	}

	for _, roleName := range a.data.AddRoles {
		cacheKey := "granted:" + roleName
		if _, done := rt.Model.GetCache(cacheKey); done {
			continue
		}
		if err := rt.Gateway.GrantRole(ctx, a.data.UserID, a.data.ProjectID, resolved[roleName].ID); err != nil {
			return err
		}
		if err := rt.CacheStep(ctx, cacheKey, true); err != nil {
			return err
		}
	}

	for _, roleName := range a.data.RemoveRoles {
		cacheKey := "revoked:" + roleName
		if _, done := rt.Model.GetCache(cacheKey); done {
			continue
		}
		if err := rt.Gateway.RevokeRole(ctx, a.data.UserID, a.data.ProjectID, resolved[roleName].ID); err != nil {
			return err
		}
		if err := rt.CacheStep(ctx, cacheKey, true); err != nil {
			return err
		}
	}

	rt.SetNeedToken(false)
	rt.AddNote(fmt.Sprintf("Updated roles for user '%s'.", a.data.UserID))
	return nil
}

func (a *EditRolesAction) Submit(ctx context.Context, rt *Runtime, _ map[string]any) error {
	// All grants and revokes happen at post-approve.
	return nil
}

// validate runs scope, permission and existence checks, then decides
// whether any change is still needed.
func (a *EditRolesAction) validate(ctx context.Context, rt *Runtime) (bool, error) {
	if a.data.UserID == "" || a.data.ProjectID == "" {
		rt.AddNote("A user and project are required.")
		return false, nil
	}
	if len(a.data.AddRoles) == 0 && len(a.data.RemoveRoles) == 0 {
		rt.AddNote("No role changes requested.")
		return false, nil
	}

	if !checkScope(rt, a.data.ProjectID, "") {
		return false, nil
	}
	if !checkRolePermission(rt, append(append([]string{}, a.data.AddRoles...), a.data.RemoveRoles...)) {
		return false, nil
	}
	if _, ok, err := checkProjectExists(ctx, rt, a.data.ProjectID); err != nil || !ok {
		return false, err
	}

	user, err := rt.Gateway.GetUser(ctx, a.data.UserID)
	if err != nil {
		return false, err
	}
	if user == nil {
		rt.AddNote(fmt.Sprintf("No user found with id '%s'.", a.data.UserID))
		return false, nil
	}

	held, err := userRoleNames(ctx, rt, a.data.UserID, a.data.ProjectID)
	if err != nil {
		return false, err
	}

	pending := false
	for _, role := range a.data.AddRoles {
		if !held[role] {
			pending = true
		}
	}
	for _, role := range a.data.RemoveRoles {
		if held[role] {
			pending = true
		}
	}

	if pending {
		rt.SetState(models.ActionStateDefault)
	} else {
		rt.SetState(models.ActionStateComplete)
	}
	return true, nil
}
