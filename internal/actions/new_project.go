package actions

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/identity"
)

// NewProjectActionName tags the action that creates and provisions a project.
const NewProjectActionName = "new_project"

// DefaultSubnetCIDR is used when the request does not name one.
const DefaultSubnetCIDR = "192.168.1.0/24"

// DefaultQuota is applied to newly provisioned projects.
var DefaultQuota = identity.Quota{
	Instances:   10,
	Cores:       20,
	RAMMB:       65536,
	FloatingIPs: 10,
}

// NewProjectData is the payload slice the new-project action consumes.
type NewProjectData struct {
	ProjectName string `mapstructure:"project_name"`
	DomainID    string `mapstructure:"domain_id"`
	ParentID    string `mapstructure:"parent_id"`
	SubnetCIDR  string `mapstructure:"subnet_cidr"`
}

// NewProjectAction creates a project and provisions its default network
// resources and quota. Each provisioning sub-step records its result in
// the durable cache immediately after it succeeds, so a retried
// post-approve resumes exactly where the previous attempt stopped.
type NewProjectAction struct {
	data NewProjectData
}

// NewNewProjectAction decodes the payload into a new-project action.
func NewNewProjectAction(input models.FieldMap) (Action, error) {
	var data NewProjectData
	if err := mapstructure.Decode(map[string]any(input), &data); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", NewProjectActionName, err)
	}
	if data.SubnetCIDR == "" {
		data.SubnetCIDR = DefaultSubnetCIDR
	}
	return &NewProjectAction{data: data}, nil
}

func (a *NewProjectAction) Name() string { return NewProjectActionName }

func (a *NewProjectAction) RequiredFields() []string {
	return []string{"project_name"}
}

func (a *NewProjectAction) TokenFields() []string { return nil }

func (a *NewProjectAction) PreApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	return nil
}

func (a *NewProjectAction) PostApprove(ctx context.Context, rt *Runtime) error {
	valid, err := a.validate(ctx, rt)
	if err != nil {
		return err
	}
	rt.SetValid(valid)
	if !valid {
		return nil
	}

	projectID, err := a.ensureProject(ctx, rt)
	if err != nil {
		return err
	}
	// Later actions in the same pass pick the new project up from the
	// task cache.
	rt.Transient()["project_id"] = projectID

	if err := a.provisionNetwork(ctx, rt, projectID); err != nil {
		return err
	}

	if _, done := rt.Model.GetCache("quota"); !done {
		if err := rt.Gateway.UpdateQuota(ctx, projectID, DefaultQuota); err != nil {
			return err
		}
		if err := rt.CacheStep(ctx, "quota", true); err != nil {
			return err
		}
	}

	rt.SetNeedToken(false)
	rt.AddNote(fmt.Sprintf("Project '%s' created and provisioned.", a.data.ProjectName))
	return nil
}

func (a *NewProjectAction) Submit(ctx context.Context, rt *Runtime, _ map[string]any) error {
	// All work happens at post-approve; nothing is gated on token data.
	return nil
}

// validate checks domain scope and name availability. When the durable
// cache already holds a project id the absence check is skipped: the
// project existing is this action's own partial progress, not a conflict.
func (a *NewProjectAction) validate(ctx context.Context, rt *Runtime) (bool, error) {
	if a.data.ProjectName == "" {
		rt.AddNote("A project name is required.")
		return false, nil
	}
	if !checkScope(rt, "", a.domainID(rt)) {
		return false, nil
	}

	if _, created := rt.Model.GetCacheString("project_id"); created {
		rt.SetState(models.ActionStateExisting)
		return true, nil
	}

	ok, err := checkProjectAbsent(ctx, rt, a.data.ProjectName, a.domainID(rt))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	rt.SetState(models.ActionStateDefault)
	return true, nil
}

// ensureProject creates the project unless a prior pass already did.
func (a *NewProjectAction) ensureProject(ctx context.Context, rt *Runtime) (string, error) {
	if id, ok := rt.Model.GetCacheString("project_id"); ok {
		return id, nil
	}

	project, err := rt.Gateway.CreateProject(ctx, identity.NewProjectSpec{
		Name:     a.data.ProjectName,
		DomainID: a.domainID(rt),
		ParentID: a.data.ParentID,
	})
	if err != nil {
		return "", err
	}
	if err := rt.CacheStep(ctx, "project_id", project.ID); err != nil {
		return "", err
	}
	return project.ID, nil
}

// provisionNetwork builds network, subnet, router and router interface,
// one cached sub-step at a time.
func (a *NewProjectAction) provisionNetwork(ctx context.Context, rt *Runtime, projectID string) error {
	networkID, ok := rt.Model.GetCacheString("network_id")
	if !ok {
		network, err := rt.Gateway.CreateNetwork(ctx, projectID, a.data.ProjectName+"-net")
		if err != nil {
			return err
		}
		networkID = network.ID
		if err := rt.CacheStep(ctx, "network_id", networkID); err != nil {
			return err
		}
	}

	subnetID, ok := rt.Model.GetCacheString("subnet_id")
	if !ok {
		subnet, err := rt.Gateway.CreateSubnet(ctx, projectID, networkID, a.data.SubnetCIDR)
		if err != nil {
			return err
		}
		subnetID = subnet.ID
		if err := rt.CacheStep(ctx, "subnet_id", subnetID); err != nil {
			return err
		}
	}

	routerID, ok := rt.Model.GetCacheString("router_id")
	if !ok {
		router, err := rt.Gateway.CreateRouter(ctx, projectID, a.data.ProjectName+"-router")
		if err != nil {
			return err
		}
		routerID = router.ID
		if err := rt.CacheStep(ctx, "router_id", routerID); err != nil {
			return err
		}
	}

	if _, done := rt.Model.GetCache("router_interface"); !done {
		if err := rt.Gateway.AddRouterInterface(ctx, routerID, subnetID); err != nil {
			return err
		}
		if err := rt.CacheStep(ctx, "router_interface", true); err != nil {
			return err
		}
	}

	return nil
}

func (a *NewProjectAction) domainID(rt *Runtime) string {
	if a.data.DomainID != "" {
		return a.data.DomainID
	}
	return rt.Requester().DomainID
}
