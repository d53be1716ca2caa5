// Package actions implements the typed units of work executed by tasks.
//
// Every action runs through three fixed stages. PreApprove validates and
// never mutates the backend. PostApprove re-validates and performs the
// side effects that do not depend on caller-supplied secrets, recording
// each completed sub-step in the action's durable cache so a retried pass
// never redoes finished work. Submit performs only the steps gated on
// token data.
package actions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity"
)

// Action is one typed unit of validation plus side-effecting work. Stage
// methods express business-rule failure by setting valid=false on the
// runtime and adding a note; a returned error always means an unexpected
// backend failure and aborts the whole stage pass.
type Action interface {
	// Name is the registered action type tag.
	Name() string

	// RequiredFields lists the payload fields this action consumes. The
	// set is fixed at construction.
	RequiredFields() []string

	// TokenFields lists the secret fields this action needs at submit
	// time. Empty means the action never requires a token.
	TokenFields() []string

	PreApprove(ctx context.Context, rt *Runtime) error
	PostApprove(ctx context.Context, rt *Runtime) error
	Submit(ctx context.Context, rt *Runtime, data map[string]any) error
}

// Runtime carries the collaborators one stage invocation needs: the
// gateway, the owning task (for the transient cache and note log), the
// persisted action row (durable cache and flags), and a persist hook that
// flushes cache writes immediately after each completed sub-step.
type Runtime struct {
	Gateway identity.Gateway
	Roles   auth.RoleMap
	Task    *models.Task
	Model   *models.Action

	// Persist flushes the action row. May be nil in validation-only
	// contexts where no sub-step runs.
	Persist func(ctx context.Context, action *models.Action) error
}

// Requester returns the claims captured when the task was submitted.
func (rt *Runtime) Requester() auth.Claims {
	return rt.Task.Requester
}

// AddNote appends a human-readable note to the task's audit log under
// this action's name.
func (rt *Runtime) AddNote(text string) {
	rt.Task.AddNote(rt.Model.Type, text)
}

// SetValid records the outcome of the most recent validation pass.
func (rt *Runtime) SetValid(valid bool) {
	rt.Model.Valid = valid
}

// SetNeedToken records whether final execution requires secret data.
func (rt *Runtime) SetNeedToken(need bool) {
	rt.Model.NeedToken = need
}

// SetState moves the action's sub-state machine.
func (rt *Runtime) SetState(state string) {
	rt.Model.State = state
}

// Transient returns the task-level cross-action cache for this pass.
func (rt *Runtime) Transient() map[string]any {
	rt.Task.EnsureTransient()
	return rt.Task.Transient
}

// TransientString reads a task transient cache key as a string.
func (rt *Runtime) TransientString(key string) (string, bool) {
	v, ok := rt.Transient()[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FlushCache persists the action row so completed sub-steps survive a
// later failure in the same pass.
func (rt *Runtime) FlushCache(ctx context.Context) error {
	if rt.Persist == nil {
		return nil
	}
	return rt.Persist(ctx, rt.Model)
}

// CacheStep records a completed sub-step under key and flushes it.
func (rt *Runtime) CacheStep(ctx context.Context, key string, value any) error {
	rt.Model.SetCache(key, value)
	if err := rt.FlushCache(ctx); err != nil {
		return fmt.Errorf("persist cache step %s: %w", key, err)
	}
	return nil
}

// randomPassword generates the throwaway password used when a user is
// created before the caller has supplied the real one.
func randomPassword() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Entropy exhaustion; nothing sensible to do.
		panic(fmt.Sprintf("generate random password: %v", err))
	}
	return hex.EncodeToString(buf)
}
