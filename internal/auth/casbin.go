package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

// InitEnforcer creates a Casbin enforcer with the embedded RBAC model and
// the static endpoint policy set. Policies map requester roles to API
// actions; nothing mutates the enforcer after startup.
func InitEnforcer() (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := seedPolicies(enforcer); err != nil {
		return nil, fmt.Errorf("seed casbin policies: %w", err)
	}

	return enforcer, nil
}

func seedPolicies(enforcer casbin.IEnforcer) error {
	memberActions := []string{TaskCreate, TaskRead, TaskList, TaskUpdate}
	modActions := append([]string{TaskApprove, TaskCancel, NotificationList, NotificationAck}, memberActions...)

	for _, act := range memberActions {
		if _, err := enforcer.AddPolicy("member", act); err != nil {
			return err
		}
	}
	for _, act := range modActions {
		if _, err := enforcer.AddPolicy("project_mod", act); err != nil {
			return err
		}
	}

	// Role inheritance: project_admin covers project_mod, admin covers all.
	if _, err := enforcer.AddGroupingPolicy("project_admin", "project_mod"); err != nil {
		return err
	}
	if _, err := enforcer.AddGroupingPolicy(AdminRole, "project_admin"); err != nil {
		return err
	}

	return nil
}

// Authorize checks whether any of the requester's roles permits the API
// action.
func Authorize(enforcer casbin.IEnforcer, claims Claims, act string) (bool, error) {
	for _, role := range claims.Roles {
		ok, err := enforcer.Enforce(role, act)
		if err != nil {
			return false, fmt.Errorf("enforce %s for role %s: %w", act, role, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
