package identity

import (
	"context"
	"fmt"
)

// User is an account in the identity backend.
type User struct {
	ID       string
	Name     string
	Email    string
	DomainID string
	Enabled  bool
}

// Project is a tenancy in the identity backend.
type Project struct {
	ID       string
	Name     string
	DomainID string
	ParentID string
}

// Role is a grantable role definition.
type Role struct {
	ID   string
	Name string
}

// Network, Subnet and Router are the provisioned network resources
// attached to a new project.
type Network struct {
	ID   string
	Name string
}

type Subnet struct {
	ID        string
	NetworkID string
	CIDR      string
}

type Router struct {
	ID   string
	Name string
}

// Quota holds the compute/network quota values applied to a project.
type Quota struct {
	Instances   int
	Cores       int
	RAMMB       int
	FloatingIPs int
}

// NewUserSpec carries the fields needed to create a backend user.
type NewUserSpec struct {
	Name     string
	Password string
	Email    string
	DomainID string
}

// NewProjectSpec carries the fields needed to create a backend project.
type NewProjectSpec struct {
	Name     string
	DomainID string
	ParentID string
}

// BackendError wraps any unexpected failure from the identity backend.
// Callers treat it as opaque; the operation name is kept for operator logs.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("identity backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err as a backend failure for operation op.
func NewBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Err: err}
}

// Gateway exposes the identity/network backend operations the action types
// need. Lookups return (nil, nil) when the resource does not exist so
// callers can branch on presence. Mutations return *BackendError on
// unexpected failure. The gateway holds no caching and no retry logic;
// retries are driven by the actions' durable caches.
type Gateway interface {
	// Users
	FindUser(ctx context.Context, name, domainID string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, spec NewUserSpec) (*User, error)
	UpdateUserPassword(ctx context.Context, userID, password string) error

	// Projects
	FindProject(ctx context.Context, name, domainID string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	CreateProject(ctx context.Context, spec NewProjectSpec) (*Project, error)

	// Roles. GrantRole on an assignment the user already holds is not an
	// error; the backend treats it as already satisfied.
	FindRole(ctx context.Context, name string) (*Role, error)
	ListUserRoles(ctx context.Context, userID, projectID string) ([]Role, error)
	ListAllUserRoles(ctx context.Context, userID string) (map[string][]Role, error)
	GrantRole(ctx context.Context, userID, projectID, roleID string) error
	RevokeRole(ctx context.Context, userID, projectID, roleID string) error

	// Network provisioning for new projects
	CreateNetwork(ctx context.Context, projectID, name string) (*Network, error)
	CreateSubnet(ctx context.Context, projectID, networkID, cidr string) (*Subnet, error)
	CreateRouter(ctx context.Context, projectID, name string) (*Router, error)
	AddRouterInterface(ctx context.Context, routerID, subnetID string) error
	UpdateQuota(ctx context.Context, projectID string, quota Quota) error
}
