package actions

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/stackdesk/stackdesk/internal/db/models"
)

// Task types served by the broker.
const (
	TaskTypeNewProject    = "new_project"
	TaskTypeInviteUser    = "invite_user"
	TaskTypeResetPassword = "reset_password"
	TaskTypeEditRoles     = "edit_roles"
)

// ActionDef describes one action slot in a task type: the factory that
// builds the action from its stored input, plus defaults merged into the
// payload at task creation.
type ActionDef struct {
	Name     string
	Factory  func(input models.FieldMap) (Action, error)
	Defaults models.FieldMap
}

// TaskDef is the ordered action list and payload schema for one task type.
type TaskDef struct {
	Type    string
	Actions []ActionDef
	schema  *jsonschema.Schema
}

// ValidatePayload checks the payload against the task type's schema and
// returns field-level error messages, empty when valid.
func (td *TaskDef) ValidatePayload(payload map[string]any) map[string][]string {
	err := td.schema.Validate(payload)
	if err == nil {
		return nil
	}

	fieldErrors := make(map[string][]string)
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		collectFieldErrors(ve, fieldErrors)
	} else {
		fieldErrors["payload"] = []string{err.Error()}
	}
	return fieldErrors
}

// BuildInput merges an action's defaults under the validated payload.
func (td *TaskDef) BuildInput(def ActionDef, payload models.FieldMap) models.FieldMap {
	input := make(models.FieldMap, len(payload)+len(def.Defaults))
	for k, v := range def.Defaults {
		input[k] = v
	}
	for k, v := range payload {
		input[k] = v
	}
	return input
}

func collectFieldErrors(ve *jsonschema.ValidationError, out map[string][]string) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectFieldErrors(cause, out)
		}
		return
	}

	if required, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, missing := range required.Missing {
			out[missing] = append(out[missing], "This field is required.")
		}
		return
	}

	field := "payload"
	if len(ve.InstanceLocation) > 0 {
		field = ve.InstanceLocation[len(ve.InstanceLocation)-1]
	}
	out[field] = append(out[field], ve.Error())
}

// Registry is the immutable task-type catalogue built once at process
// start and injected into the orchestrator.
type Registry struct {
	defs map[string]*TaskDef
}

// Get returns the definition for a task type.
func (r *Registry) Get(taskType string) (*TaskDef, bool) {
	def, ok := r.defs[taskType]
	return def, ok
}

// Types lists the registered task types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}

// NewRegistry builds the built-in task-type catalogue.
func NewRegistry() (*Registry, error) {
	r := &Registry{defs: make(map[string]*TaskDef)}

	entries := []struct {
		taskType string
		schema   string
		actions  []ActionDef
	}{
		{
			taskType: TaskTypeNewProject,
			schema:   newProjectSchema,
			actions: []ActionDef{
				{Name: NewProjectActionName, Factory: NewNewProjectAction},
				{
					Name:    NewUserActionName,
					Factory: NewNewUserAction,
					// The requesting user becomes the project admin.
					Defaults: models.FieldMap{"roles": []any{"project_admin"}},
				},
			},
		},
		{
			taskType: TaskTypeInviteUser,
			schema:   inviteUserSchema,
			actions:  []ActionDef{{Name: NewUserActionName, Factory: NewNewUserAction}},
		},
		{
			taskType: TaskTypeResetPassword,
			schema:   resetPasswordSchema,
			actions:  []ActionDef{{Name: ResetPasswordActionName, Factory: NewResetPasswordAction}},
		},
		{
			taskType: TaskTypeEditRoles,
			schema:   editRolesSchema,
			actions:  []ActionDef{{Name: EditRolesActionName, Factory: NewEditRolesAction}},
		},
	}

	for _, entry := range entries {
		schema, err := compileSchema(entry.taskType, entry.schema)
		if err != nil {
			return nil, err
		}
		r.defs[entry.taskType] = &TaskDef{
			Type:    entry.taskType,
			Actions: entry.actions,
			schema:  schema,
		}
	}
	return r, nil
}

func compileSchema(taskType, source string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", taskType, err)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://%s.json", taskType)
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("register %s schema: %w", taskType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", taskType, err)
	}
	return schema, nil
}

const newProjectSchema = `{
	"type": "object",
	"properties": {
		"project_name": {"type": "string", "minLength": 1, "maxLength": 64},
		"domain_id": {"type": "string"},
		"parent_id": {"type": "string"},
		"subnet_cidr": {"type": "string"},
		"email": {"type": "string", "minLength": 3},
		"username": {"type": "string"},
		"roles": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	},
	"required": ["project_name", "email"],
	"additionalProperties": false
}`

const inviteUserSchema = `{
	"type": "object",
	"properties": {
		"email": {"type": "string", "minLength": 3},
		"username": {"type": "string"},
		"project_id": {"type": "string", "minLength": 1},
		"domain_id": {"type": "string"},
		"roles": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	},
	"required": ["email", "project_id", "roles"],
	"additionalProperties": false
}`

const resetPasswordSchema = `{
	"type": "object",
	"properties": {
		"email": {"type": "string", "minLength": 3},
		"username": {"type": "string"},
		"domain_id": {"type": "string"}
	},
	"required": ["email"],
	"additionalProperties": false
}`

const editRolesSchema = `{
	"type": "object",
	"properties": {
		"user_id": {"type": "string", "minLength": 1},
		"project_id": {"type": "string", "minLength": 1},
		"add_roles": {"type": "array", "items": {"type": "string"}},
		"remove_roles": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["user_id", "project_id"],
	"additionalProperties": false
}`
