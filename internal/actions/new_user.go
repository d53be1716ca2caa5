package actions

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity"
)

// NewUserActionName tags the action that invites a user to a project.
const NewUserActionName = "new_user"

// NewUserData is the payload slice the new-user action consumes.
type NewUserData struct {
	Email     string   `mapstructure:"email"`
	Username  string   `mapstructure:"username"`
	ProjectID string   `mapstructure:"project_id"`
	DomainID  string   `mapstructure:"domain_id"`
	Roles     []string `mapstructure:"roles"`
}

// NewUserAction invites a user to a project. If the user does not exist it
// is created at post-approve with a throwaway password and the real
// password is set at submit, gated on the task token. If the user exists,
// only the missing roles are granted and no token is needed. If the user
// already holds every requested role the action completes with no backend
// mutation.
type NewUserAction struct {
	data NewUserData
}

// NewNewUserAction decodes the payload into a new-user action.
func NewNewUserAction(input models.FieldMap) (Action, error) {
	var data NewUserData
	if err := mapstructure.Decode(map[string]any(input), &data); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", NewUserActionName, err)
	}
	if data.Username == "" {
		data.Username = data.Email
	}
	return &NewUserAction{data: data}, nil
}

func (a *NewUserAction) Name() string { return NewUserActionName }

func (a *NewUserAction) RequiredFields() []string {
	return []string{"email", "project_id", "roles"}
}

func (a *NewUserAction) TokenFields() []string { return []string{"password"} }

func (a *NewUserAction) PreApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	return nil
}

func (a *NewUserAction) PostApprove(ctx context.Context, rt *Runtime) error {
	// State may have shifted since pre-approve; validate again.
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	if !valid {
		return nil
	}

	switch rt.Model.State {
	case models.ActionStateComplete:
		rt.SetNeedToken(false)
		rt.AddNote(fmt.Sprintf("User '%s' already has the requested roles.", a.data.Username))
		return nil

	case models.ActionStateExisting:
		if err := a.grantRoles(ctx, rt); err != nil {
			return err
		}
		rt.SetNeedToken(false)
		rt.AddNote(fmt.Sprintf("Granted roles to existing user '%s'.", a.data.Username))
		return nil

	default:
		projectID, ok := a.resolveProject(rt)
		if !ok {
			rt.SetValid(false)
			rt.AddNote("No target project available for user setup.")
			return nil
		}
		if err := rt.CacheStep(ctx, "project_id", projectID); err != nil {
			return err
		}

		if _, done := rt.Model.GetCacheString("user_id"); !done {
			user, err := rt.Gateway.CreateUser(ctx, a.userSpec(rt))
			if err != nil {
				return err
			}
			if err := rt.CacheStep(ctx, "user_id", user.ID); err != nil {
				return err
			}
		}
		if err := a.grantRoles(ctx, rt); err != nil {
			return err
		}
		rt.SetNeedToken(true)
		return nil
	}
}

func (a *NewUserAction) Submit(ctx context.Context, rt *Runtime, data map[string]any) error {
	if rt.Model.State != models.ActionStateDefault {
		// Existing or complete: nothing is gated on the token.
		return nil
	}

	if _, done := rt.Model.GetCache("password_set"); done {
		return nil
	}

	password, _ := data["password"].(string)
	userID, ok := rt.Model.GetCacheString("user_id")
	if !ok {
		return fmt.Errorf("submit %s: no cached user id", NewUserActionName)
	}
	if err := rt.Gateway.UpdateUserPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := rt.CacheStep(ctx, "password_set", true); err != nil {
		return err
	}
	rt.AddNote(fmt.Sprintf("User '%s' created on project and password set.", a.data.Username))
	return nil
}

// validate runs the shared validation chain and moves the sub-state
// machine: default when the user must be created, existing when only role
// grants remain, complete when the desired end-state already holds.
func (a *NewUserAction) validate(ctx context.Context, rt *Runtime) (bool, error) {
	if a.data.Email == "" || len(a.data.Roles) == 0 {
		rt.AddNote("Email and at least one role are required.")
		return false, nil
	}

	if !checkRolePermission(rt, a.data.Roles) {
		return false, nil
	}
	if _, ok, err := findRoles(ctx, rt, a.data.Roles); err != nil || !ok {
		return false, err
	}

	if a.data.ProjectID != "" {
		if !checkScope(rt, a.data.ProjectID, a.data.DomainID) {
			return false, nil
		}
		if _, ok, err := checkProjectExists(ctx, rt, a.data.ProjectID); err != nil || !ok {
			return false, err
		}
	} else if rt.Model.Position == 0 {
		// Standalone invite with no target project. When the action runs
		// after a project-creating action the project id arrives through
		// the task cache instead.
		if _, ok := a.resolveProject(rt); !ok {
			rt.AddNote("No target project for user invitation.")
			return false, nil
		}
	}

	// A cached user id means this action created the user on an earlier
	// pass. Until the token-gated password step has run, that user is our
	// own partial progress, not a pre-existing account.
	if _, created := rt.Model.GetCacheString("user_id"); created {
		if _, done := rt.Model.GetCache("password_set"); !done {
			rt.SetState(models.ActionStateDefault)
			return true, nil
		}
	}

	user, err := rt.Gateway.FindUser(ctx, a.data.Username, a.domainID(rt))
	if err != nil {
		return false, err
	}
	if user == nil {
		rt.SetState(models.ActionStateDefault)
		return true, nil
	}

	projectID, ok := a.resolveProject(rt)
	if !ok {
		// User exists but the project is still pending creation; roles
		// are granted once it exists.
		rt.SetState(models.ActionStateExisting)
		return true, nil
	}

	held, err := userRoleNames(ctx, rt, user.ID, projectID)
	if err != nil {
		return false, err
	}
	missing := false
	for _, role := range a.data.Roles {
		if !held[role] {
			missing = true
			break
		}
	}
	if missing {
		rt.SetState(models.ActionStateExisting)
	} else {
		rt.SetState(models.ActionStateComplete)
	}
	return true, nil
}

// grantRoles grants each requested role, recording every grant in the
// durable cache so a retried pass skips completed grants.
func (a *NewUserAction) grantRoles(ctx context.Context, rt *Runtime) error {
	projectID, ok := a.resolveProject(rt)
	if !ok {
		return fmt.Errorf("grant roles: no target project")
	}
	userID, err := a.resolveUser(ctx, rt)
	if err != nil {
		return err
	}

	resolved, ok, err := findRoles(ctx, rt, a.data.Roles)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("grant roles: role definitions disappeared")
	}

	for _, roleName := range a.data.Roles {
		cacheKey := "granted:" + roleName
		if _, done := rt.Model.GetCache(cacheKey); done {
			continue
		}
		if err := rt.Gateway.GrantRole(ctx, userID, projectID, resolved[roleName].ID); err != nil {
			return err
		}
		if err := rt.CacheStep(ctx, cacheKey, true); err != nil {
			return err
		}
	}
	return nil
}

// resolveProject finds the target project id: explicit input first, then
// the durable cache, then the task transient cache populated by a
// preceding action in the same pass.
func (a *NewUserAction) resolveProject(rt *Runtime) (string, bool) {
	if a.data.ProjectID != "" {
		return a.data.ProjectID, true
	}
	if id, ok := rt.Model.GetCacheString("project_id"); ok && id != "" {
		return id, true
	}
	if id, ok := rt.TransientString("project_id"); ok && id != "" {
		return id, true
	}
	return "", false
}

// resolveUser returns the cached created user or looks up the existing one.
func (a *NewUserAction) resolveUser(ctx context.Context, rt *Runtime) (string, error) {
	if id, ok := rt.Model.GetCacheString("user_id"); ok {
		return id, nil
	}
	user, err := rt.Gateway.FindUser(ctx, a.data.Username, a.domainID(rt))
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("user '%s' not found", a.data.Username)
	}
	return user.ID, nil
}

func (a *NewUserAction) domainID(rt *Runtime) string {
	if a.data.DomainID != "" {
		return a.data.DomainID
	}
	return rt.Requester().DomainID
}

func (a *NewUserAction) userSpec(rt *Runtime) identity.NewUserSpec {
	return identity.NewUserSpec{
		Name:     a.data.Username,
		Password: randomPassword(),
		Email:    a.data.Email,
		DomainID: a.domainID(rt),
	}
}
