package actions

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// ResetPasswordActionName tags the token-gated password reset action.
const ResetPasswordActionName = "reset_password"

// ResetPasswordData is the payload slice the reset action consumes.
type ResetPasswordData struct {
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
	DomainID string `mapstructure:"domain_id"`
}

// ResetPasswordAction sets a new password for an existing user. The whole
// effect is gated on the token: post-approve only confirms the user still
// exists and requests a token.
type ResetPasswordAction struct {
	data ResetPasswordData
}

// NewResetPasswordAction decodes the payload into a reset action.
func NewResetPasswordAction(input models.FieldMap) (Action, error) {
	var data ResetPasswordData
	if err := mapstructure.Decode(map[string]any(input), &data); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", ResetPasswordActionName, err)
	}
	if data.Username == "" {
		data.Username = data.Email
	}
	return &ResetPasswordAction{data: data}, nil
}

func (a *ResetPasswordAction) Name() string { return ResetPasswordActionName }

func (a *ResetPasswordAction) RequiredFields() []string { return []string{"email"} }

func (a *ResetPasswordAction) TokenFields() []string { return []string{"password"} }

func (a *ResetPasswordAction) PreApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	return nil
}

func (a *ResetPasswordAction) PostApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	if !valid {
		return nil
	}
	rt.SetNeedToken(true)
	return nil
}

func (a *ResetPasswordAction) Submit(ctx context.Context, rt *Runtime, data map[string]any) error {
	userID, ok := rt.Model.GetCacheString("user_id")
	if !ok {
		return fmt.Errorf("submit %s: no cached user id", ResetPasswordActionName)
	}
	password, _ := data["password"].(string)
	if err := rt.Gateway.UpdateUserPassword(ctx, userID, password); err != nil {
		return err
	}
	rt.AddNote(fmt.Sprintf("Password reset for user '%s'.", a.data.Username))
	return nil
}

// validate confirms the user exists and caches its id for submit. The
// requester may only reset within their own domain unless elevated.
func (a *ResetPasswordAction) validate(ctx context.Context, rt *Runtime) (bool, error) {
	if a.data.Email == "" {
		rt.AddNote("An email is required.")
		return false, nil
	}

	domainID := a.data.DomainID
	if domainID == "" {
		domainID = rt.Requester().DomainID
	}
	if !checkScope(rt, "", domainID) {
		return false, nil
	}

	user, err := rt.Gateway.FindUser(ctx, a.data.Username, domainID)
	if err != nil {
		return false, err
	}
	if user == nil {
		rt.AddNote(fmt.Sprintf("No user matching '%s'.", a.data.Username))
		return false, nil
	}

	rt.Model.SetCache("user_id", user.ID)
	if err := rt.FlushCache(ctx); err != nil {
		return false, err
	}
	rt.SetState(models.ActionStateDefault)
	return true, nil
}
