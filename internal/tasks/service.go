// Package tasks implements the staged-execution orchestrator: task
// creation with immediate validation, approval with idempotent side
// effects, and token-gated final submission.
package tasks

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stackdesk/stackdesk/internal/actions"
	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity"
	"github.com/stackdesk/stackdesk/internal/notifications"
	"github.com/stackdesk/stackdesk/internal/repository"
	"github.com/stackdesk/stackdesk/internal/telemetry"
)

// Stage tags used in notes, notifications and metrics.
const (
	StagePreApprove  = "pre_approve"
	StagePostApprove = "post_approve"
	StageSubmit      = "submit"
)

// Service is the task orchestrator. All operations are synchronous: a
// stage pass either runs to completion or raises, and the per-action
// durable cache makes sequential retries safe.
type Service struct {
	registry *actions.Registry
	taskRepo repository.TaskRepository
	tokens   repository.TokenRepository
	notify   *notifications.Service
	gateway  identity.Gateway
	roles    auth.RoleMap
	metrics  *telemetry.TaskMetrics
	tokenTTL time.Duration
}

// NewService wires the orchestrator. metrics may be nil when telemetry
// is disabled.
func NewService(
	registry *actions.Registry,
	taskRepo repository.TaskRepository,
	tokens repository.TokenRepository,
	notify *notifications.Service,
	gateway identity.Gateway,
	roles auth.RoleMap,
	metrics *telemetry.TaskMetrics,
	tokenTTL time.Duration,
) *Service {
	return &Service{
		registry: registry,
		taskRepo: taskRepo,
		tokens:   tokens,
		notify:   notify,
		gateway:  gateway,
		roles:    roles,
		metrics:  metrics,
		tokenTTL: tokenTTL,
	}
}

// ApprovalResult reports what an approve or submit pass produced.
type ApprovalResult struct {
	Task *models.Task

	// Token is the cleartext credential, set only at mint time. It is
	// never persisted and never recoverable afterwards.
	Token string

	// TokenExpiresAt accompanies a minted token.
	TokenExpiresAt time.Time

	// Completed is true when the task finished without needing a token.
	Completed bool
}

// TokenInfo describes a live token to its holder without revealing
// anything secret.
type TokenInfo struct {
	TaskID         string    `json:"task_id"`
	TaskType       string    `json:"task_type"`
	RequiredFields []string  `json:"required_fields"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Create builds a task of the given type from the payload, persists it
// with its ordered actions, and runs the pre_approve pass so the caller
// gets immediate validation feedback. Field-level problems come back as
// FieldErrors; an unexpected backend failure during validation is
// captured as an error notification and the task is still returned.
func (s *Service) Create(ctx context.Context, requester auth.Claims, taskType string, payload models.FieldMap) (*models.Task, error) {
	def, ok := s.registry.Get(taskType)
	if !ok {
		return nil, FieldErrors{"task_type": []string{fmt.Sprintf("Unknown task type '%s'.", taskType)}}
	}

	if fieldErrors := def.ValidatePayload(payload); len(fieldErrors) > 0 {
		return nil, FieldErrors(fieldErrors)
	}

	task := models.NewTask(taskType, requester)
	for i, actionDef := range def.Actions {
		task.Actions = append(task.Actions, &models.Action{
			TaskID:   task.ID,
			Position: i,
			Type:     actionDef.Name,
			Input:    def.BuildInput(actionDef, payload),
			Cache:    models.FieldMap{},
			State:    models.ActionStateDefault,
		})
	}

	if err := s.taskRepo.CreateWithActions(ctx, task); err != nil {
		log.Printf("CRITICAL: persisting task type=%s failed: %v", taskType, err)
		return nil, ErrInternal
	}

	if err := s.runStage(ctx, task, StagePreApprove, nil); err != nil {
		// Captured already as a notification; the task stands.
		task.AddNote(taskType, "Unexpected error during validation.")
	}
	if err := s.persistPass(ctx, task); err != nil {
		log.Printf("CRITICAL: persisting pre_approve results for task %s failed: %v", task.ID, err)
		return nil, ErrInternal
	}

	s.notify.Info(ctx, task.ID, fmt.Sprintf("Task of type '%s' created.", taskType))
	return task, nil
}

// Approve runs the post_approve pass on every action in order. The task
// is persisted as approved only after every action reports valid. When
// any action still needs secret data a token is minted, invalidating
// prior tokens for the task; otherwise the submit pass runs immediately
// and the task completes.
func (s *Service) Approve(ctx context.Context, id string, approver auth.Claims) (*ApprovalResult, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkStageable(task); err != nil {
		return nil, err
	}

	if err := s.runStage(ctx, task, StagePostApprove, nil); err != nil {
		// Persist whatever sub-steps finished so a retry resumes there.
		if perr := s.persistPass(ctx, task); perr != nil {
			log.Printf("CRITICAL: persisting partial post_approve for task %s failed: %v", task.ID, perr)
		}
		return nil, ErrInternal
	}

	if !allValid(task) {
		if err := s.persistPass(ctx, task); err != nil {
			log.Printf("CRITICAL: persisting post_approve results for task %s failed: %v", task.ID, err)
		}
		return nil, ErrActionsInvalid
	}

	if !task.Approved {
		task.MarkApproved(approver)
	}

	if anyNeedsToken(task) {
		// Approval must be durable before a credential exists for it.
		if err := s.persistPass(ctx, task); err != nil {
			log.Printf("CRITICAL: persisting approval for task %s failed: %v", task.ID, err)
			return nil, ErrInternal
		}
		cleartext, expiresAt, err := s.mintToken(ctx, task)
		if err != nil {
			log.Printf("CRITICAL: minting token for task %s failed: %v", task.ID, err)
			return nil, ErrInternal
		}
		task.AddNote(task.Type, "created token")
		if err := s.taskRepo.Update(ctx, task); err != nil {
			log.Printf("persisting token note for task %s failed: %v", task.ID, err)
		}
		return &ApprovalResult{Task: task, Token: cleartext, TokenExpiresAt: expiresAt}, nil
	}

	if err := s.runStage(ctx, task, StageSubmit, map[string]any{}); err != nil {
		if perr := s.persistPass(ctx, task); perr != nil {
			log.Printf("CRITICAL: persisting partial submit for task %s failed: %v", task.ID, perr)
		}
		return nil, ErrInternal
	}
	return s.complete(ctx, task)
}

// Submit redeems a token with the caller-supplied secret fields and runs
// the submit pass. Expired tokens are deleted on access and reported as
// not found.
func (s *Service) Submit(ctx context.Context, cleartext string, data map[string]any) (*ApprovalResult, error) {
	token, task, err := s.redeemable(ctx, cleartext)
	if err != nil {
		return nil, err
	}

	fieldErrors := FieldErrors{}
	for _, field := range s.requiredTokenFields(task) {
		if _, ok := data[field]; !ok {
			fieldErrors.Add(field, "This field is required.")
		}
	}
	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}

	if err := s.runStage(ctx, task, StageSubmit, data); err != nil {
		if perr := s.persistPass(ctx, task); perr != nil {
			log.Printf("CRITICAL: persisting partial submit for task %s failed: %v", task.ID, perr)
		}
		return nil, ErrInternal
	}

	result, err := s.complete(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.DeleteByHash(ctx, token.TokenHash); err != nil {
		log.Printf("deleting redeemed token for task %s failed: %v", task.ID, err)
	}
	s.recordToken(ctx, "redeem", 1)
	return result, nil
}

// DescribeToken returns the field requirements for a live token, for the
// holder to render a form. Access to an expired token deletes it.
func (s *Service) DescribeToken(ctx context.Context, cleartext string) (*TokenInfo, error) {
	token, task, err := s.redeemable(ctx, cleartext)
	if err != nil {
		return nil, err
	}
	return &TokenInfo{
		TaskID:         task.ID,
		TaskType:       task.Type,
		RequiredFields: s.requiredTokenFields(task),
		ExpiresAt:      token.ExpiresAt,
	}, nil
}

// Update replaces a pending task's action inputs with a fresh payload
// and reruns the pre_approve pass.
func (s *Service) Update(ctx context.Context, id string, payload models.FieldMap) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case task.Cancelled:
		return nil, ErrTaskCancelled
	case task.Completed:
		return nil, ErrTaskCompleted
	case task.Approved:
		return nil, ErrTaskAlreadyApproved
	}

	def, ok := s.registry.Get(task.Type)
	if !ok {
		return nil, ErrInternal
	}
	if fieldErrors := def.ValidatePayload(payload); len(fieldErrors) > 0 {
		return nil, FieldErrors(fieldErrors)
	}

	for i, am := range task.Actions {
		if i < len(def.Actions) {
			am.Input = def.BuildInput(def.Actions[i], payload)
		}
	}
	task.AddNote(task.Type, "Task updated.")

	if err := s.runStage(ctx, task, StagePreApprove, nil); err != nil {
		task.AddNote(task.Type, "Unexpected error during validation.")
	}
	if err := s.persistPass(ctx, task); err != nil {
		log.Printf("CRITICAL: persisting update for task %s failed: %v", task.ID, err)
		return nil, ErrInternal
	}
	return task, nil
}

// Cancel aborts a task that has not yet completed. Outstanding tokens
// are deleted.
func (s *Service) Cancel(ctx context.Context, id string, canceller auth.Claims) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case task.Cancelled:
		return nil, ErrTaskCancelled
	case task.Completed:
		return nil, ErrTaskCompleted
	}

	task.Cancelled = true
	task.AddNote(task.Type, fmt.Sprintf("Task cancelled by %s.", canceller.Username))
	if err := s.taskRepo.Update(ctx, task); err != nil {
		log.Printf("CRITICAL: persisting cancel for task %s failed: %v", task.ID, err)
		return nil, ErrInternal
	}
	if err := s.tokens.DeleteForTask(ctx, task.ID); err != nil {
		log.Printf("deleting tokens for cancelled task %s failed: %v", task.ID, err)
	}
	return task, nil
}

// Get loads one task with its actions.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.load(ctx, id)
}

// List returns tasks newest first, optionally narrowed by a bexpr filter
// expression.
func (s *Service) List(ctx context.Context, filter string, limit, offset int) ([]models.Task, error) {
	return s.taskRepo.List(ctx, filter, limit, offset)
}

// PurgeExpiredTokens deletes every token past its expiry and returns the
// count removed.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	purged, err := s.tokens.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.recordToken(ctx, "purge", purged)
	}
	return purged, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		log.Printf("loading task %s failed: %v", id, err)
		return nil, ErrInternal
	}
	return task, nil
}

// redeemable resolves a cleartext token to its live row and stageable
// task. Expired tokens are deleted and reported exactly like absent
// ones.
func (s *Service) redeemable(ctx context.Context, cleartext string) (*models.Token, *models.Task, error) {
	token, err := s.tokens.GetByHash(ctx, HashToken(cleartext))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrTokenNotFound
		}
		log.Printf("loading token failed: %v", err)
		return nil, nil, ErrInternal
	}
	if token.Expired(time.Now().UTC()) {
		if err := s.tokens.DeleteByHash(ctx, token.TokenHash); err != nil {
			log.Printf("deleting expired token for task %s failed: %v", token.TaskID, err)
		}
		return nil, nil, ErrTokenNotFound
	}

	task, err := s.load(ctx, token.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkStageable(task); err != nil {
		return nil, nil, err
	}
	// A token is only ever minted after approval is durable; anything
	// else is a stray credential.
	if !task.Approved {
		return nil, nil, ErrTokenNotFound
	}
	return token, task, nil
}

// runStage executes one stage on every action in ascending order. An
// error from any action aborts the pass after being recorded as an
// error notification; valid-flag and sub-state changes made before the
// failure are left on the models for the caller to persist.
func (s *Service) runStage(ctx context.Context, task *models.Task, stage string, data map[string]any) error {
	start := time.Now()
	err := s.runStageActions(ctx, task, stage, data)
	if s.metrics != nil {
		s.metrics.RecordStage(ctx, task.Type, stage, err == nil, float64(time.Since(start).Milliseconds()))
	}
	return err
}

func (s *Service) runStageActions(ctx context.Context, task *models.Task, stage string, data map[string]any) error {
	task.EnsureTransient()
	for _, am := range task.Actions {
		action, err := s.buildAction(task.Type, am)
		if err != nil {
			log.Printf("CRITICAL: building action %s for task %s: %v", am.Type, task.ID, err)
			s.notify.Error(ctx, task.ID, am.Type, "Error pending investigation.")
			return err
		}

		rt := &actions.Runtime{
			Gateway: s.gateway,
			Roles:   s.roles,
			Task:    task,
			Model:   am,
			Persist: s.taskRepo.UpdateAction,
		}

		switch stage {
		case StagePreApprove:
			// Validation only; no persist hook needed but flushing cache
			// writes from validation keeps retries cheap.
			err = action.PreApprove(ctx, rt)
		case StagePostApprove:
			err = action.PostApprove(ctx, rt)
		case StageSubmit:
			err = action.Submit(ctx, rt, data)
		default:
			err = fmt.Errorf("unknown stage %s", stage)
		}
		if err != nil {
			log.Printf("CRITICAL: task %s action %s failed during %s: %v", task.ID, am.Type, stage, err)
			s.notify.Error(ctx, task.ID, am.Type,
				fmt.Sprintf("Error during %s of action '%s'. Error pending investigation.", stage, am.Type))
			return err
		}
	}
	return nil
}

func (s *Service) buildAction(taskType string, am *models.Action) (actions.Action, error) {
	def, ok := s.registry.Get(taskType)
	if !ok {
		return nil, fmt.Errorf("unknown task type %s", taskType)
	}
	for _, actionDef := range def.Actions {
		if actionDef.Name == am.Type {
			return actionDef.Factory(am.Input)
		}
	}
	return nil, fmt.Errorf("task type %s has no action %s", taskType, am.Type)
}

// persistPass flushes the task row and every action row after a stage
// pass.
func (s *Service) persistPass(ctx context.Context, task *models.Task) error {
	for _, am := range task.Actions {
		if err := s.taskRepo.UpdateAction(ctx, am); err != nil {
			return fmt.Errorf("persist action %s: %w", am.Type, err)
		}
	}
	if err := task.CheckInvariants(); err != nil {
		return err
	}
	return s.taskRepo.Update(ctx, task)
}

func (s *Service) complete(ctx context.Context, task *models.Task) (*ApprovalResult, error) {
	task.MarkCompleted()
	task.AddNote(task.Type, "Task completed successfully.")
	if err := s.persistPass(ctx, task); err != nil {
		log.Printf("CRITICAL: persisting completion for task %s failed: %v", task.ID, err)
		return nil, ErrInternal
	}
	s.notify.Info(ctx, task.ID, "Task completed successfully.")
	return &ApprovalResult{Task: task, Completed: true}, nil
}

// mintToken issues a fresh credential for the task, deleting any prior
// tokens first so at most one live token exists per task.
func (s *Service) mintToken(ctx context.Context, task *models.Task) (string, time.Time, error) {
	if err := s.tokens.DeleteForTask(ctx, task.ID); err != nil {
		return "", time.Time{}, fmt.Errorf("invalidate prior tokens: %w", err)
	}

	cleartext := newTokenString()
	expiresAt := time.Now().UTC().Add(s.tokenTTL)
	token := &models.Token{
		TokenHash: HashToken(cleartext),
		TaskID:    task.ID,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("create token: %w", err)
	}
	s.recordToken(ctx, "mint", 1)
	return cleartext, expiresAt, nil
}

func (s *Service) recordToken(ctx context.Context, operation string, count int64) {
	if s.metrics != nil {
		s.metrics.RecordToken(ctx, operation, count)
	}
}

// checkStageable rejects stage execution on terminal tasks.
func checkStageable(task *models.Task) error {
	switch {
	case task.Cancelled:
		return ErrTaskCancelled
	case task.Completed:
		return ErrTaskCompleted
	}
	return nil
}

func allValid(task *models.Task) bool {
	for _, am := range task.Actions {
		if !am.Valid {
			return false
		}
	}
	return len(task.Actions) > 0
}

func anyNeedsToken(task *models.Task) bool {
	for _, am := range task.Actions {
		if am.NeedToken {
			return true
		}
	}
	return false
}

// requiredTokenFields collects the union of secret fields declared by
// actions still waiting on token data, preserving action order.
func (s *Service) requiredTokenFields(task *models.Task) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, am := range task.Actions {
		if !am.NeedToken {
			continue
		}
		action, err := s.buildAction(task.Type, am)
		if err != nil {
			continue
		}
		for _, field := range action.TokenFields() {
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			fields = append(fields, field)
		}
	}
	return fields
}

// HashToken derives the storage key for a cleartext token. Only the
// SHA256 digest is ever persisted.
func HashToken(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

func newTokenString() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("generate token: %v", err))
	}
	return hex.EncodeToString(buf)
}
