// Package identitytest provides a deterministic in-memory Gateway used by
// action and orchestrator tests. Individual operations can be forced to
// fail to exercise partial-failure recovery.
package identitytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackdesk/stackdesk/internal/identity"
)

// Fake is an in-memory identity.Gateway.
type Fake struct {
	mu sync.Mutex

	users       map[string]*identity.User
	passwords   map[string]string
	projects    map[string]*identity.Project
	roles       map[string]*identity.Role
	assignments map[string]map[string]map[string]bool // user -> project -> role IDs
	networks    map[string]*identity.Network          // project -> network
	subnets     map[string]*identity.Subnet           // network -> subnet
	routers     map[string]*identity.Router           // project -> router
	interfaces  map[string]string                     // router -> subnet
	quotas      map[string]identity.Quota

	failures map[string]error
	calls    map[string]int
	nextID   int
}

// NewFake returns an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		users:       make(map[string]*identity.User),
		passwords:   make(map[string]string),
		projects:    make(map[string]*identity.Project),
		roles:       make(map[string]*identity.Role),
		assignments: make(map[string]map[string]map[string]bool),
		networks:    make(map[string]*identity.Network),
		subnets:     make(map[string]*identity.Subnet),
		routers:     make(map[string]*identity.Router),
		interfaces:  make(map[string]string),
		quotas:      make(map[string]identity.Quota),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// FailOn makes the named operation return a backend error until ClearFailure
// is called.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// ClearFailure removes a forced failure.
func (f *Fake) ClearFailure(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

// CallCount reports how many times the named operation ran, including
// failed attempts.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		return identity.NewBackendError(op, err)
	}
	return nil
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

// AddUser seeds a user and returns it.
func (f *Fake) AddUser(name, email, domainID string) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &identity.User{ID: f.id("user"), Name: name, Email: email, DomainID: domainID, Enabled: true}
	f.users[u.ID] = u
	return u
}

// AddProject seeds a project and returns it.
func (f *Fake) AddProject(name, domainID string) *identity.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &identity.Project{ID: f.id("proj"), Name: name, DomainID: domainID}
	f.projects[p.ID] = p
	return p
}

// AddRole seeds a role definition and returns it.
func (f *Fake) AddRole(name string) *identity.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &identity.Role{ID: f.id("role"), Name: name}
	f.roles[name] = r
	return r
}

// Grant seeds a role assignment directly.
func (f *Fake) Grant(userID, projectID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantLocked(userID, projectID, roleID)
}

func (f *Fake) grantLocked(userID, projectID, roleID string) {
	byProject, ok := f.assignments[userID]
	if !ok {
		byProject = make(map[string]map[string]bool)
		f.assignments[userID] = byProject
	}
	roleSet, ok := byProject[projectID]
	if !ok {
		roleSet = make(map[string]bool)
		byProject[projectID] = roleSet
	}
	roleSet[roleID] = true
}

// Password reports the stored password for a user.
func (f *Fake) Password(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwords[userID]
}

// Network returns the seeded/provisioned network for a project, if any.
func (f *Fake) Network(projectID string) *identity.Network {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[projectID]
}

func (f *Fake) FindUser(_ context.Context, name, domainID string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindUser"); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.Name == name && u.DomainID == domainID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *Fake) GetUser(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetUser"); err != nil {
		return nil, err
	}
	return f.users[id], nil
}

func (f *Fake) CreateUser(_ context.Context, spec identity.NewUserSpec) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateUser"); err != nil {
		return nil, err
	}
	u := &identity.User{ID: f.id("user"), Name: spec.Name, Email: spec.Email, DomainID: spec.DomainID, Enabled: true}
	f.users[u.ID] = u
	f.passwords[u.ID] = spec.Password
	return u, nil
}

func (f *Fake) UpdateUserPassword(_ context.Context, userID, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateUserPassword"); err != nil {
		return err
	}
	if _, ok := f.users[userID]; !ok {
		return identity.NewBackendError("UpdateUserPassword", fmt.Errorf("no such user %s", userID))
	}
	f.passwords[userID] = password
	return nil
}

func (f *Fake) FindProject(_ context.Context, name, domainID string) (*identity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindProject"); err != nil {
		return nil, err
	}
	for _, p := range f.projects {
		if p.Name == name && p.DomainID == domainID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *Fake) GetProject(_ context.Context, id string) (*identity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetProject"); err != nil {
		return nil, err
	}
	return f.projects[id], nil
}

func (f *Fake) CreateProject(_ context.Context, spec identity.NewProjectSpec) (*identity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateProject"); err != nil {
		return nil, err
	}
	for _, p := range f.projects {
		if p.Name == spec.Name && p.DomainID == spec.DomainID {
			return nil, identity.NewBackendError("CreateProject", fmt.Errorf("project %q already exists", spec.Name))
		}
	}
	p := &identity.Project{ID: f.id("proj"), Name: spec.Name, DomainID: spec.DomainID, ParentID: spec.ParentID}
	f.projects[p.ID] = p
	return p, nil
}

func (f *Fake) FindRole(_ context.Context, name string) (*identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindRole"); err != nil {
		return nil, err
	}
	return f.roles[name], nil
}

func (f *Fake) ListUserRoles(_ context.Context, userID, projectID string) ([]identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListUserRoles"); err != nil {
		return nil, err
	}
	var out []identity.Role
	for roleID := range f.assignments[userID][projectID] {
		for _, r := range f.roles {
			if r.ID == roleID {
				out = append(out, *r)
			}
		}
	}
	return out, nil
}

func (f *Fake) ListAllUserRoles(_ context.Context, userID string) (map[string][]identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListAllUserRoles"); err != nil {
		return nil, err
	}
	out := make(map[string][]identity.Role)
	for projectID, roleSet := range f.assignments[userID] {
		for roleID := range roleSet {
			for _, r := range f.roles {
				if r.ID == roleID {
					out[projectID] = append(out[projectID], *r)
				}
			}
		}
	}
	return out, nil
}

func (f *Fake) GrantRole(_ context.Context, userID, projectID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GrantRole"); err != nil {
		return err
	}
	// Granting an already-held role is success.
	f.grantLocked(userID, projectID, roleID)
	return nil
}

func (f *Fake) RevokeRole(_ context.Context, userID, projectID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RevokeRole"); err != nil {
		return err
	}
	if roleSet, ok := f.assignments[userID][projectID]; ok {
		delete(roleSet, roleID)
	}
	return nil
}

func (f *Fake) CreateNetwork(_ context.Context, projectID, name string) (*identity.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateNetwork"); err != nil {
		return nil, err
	}
	n := &identity.Network{ID: f.id("net"), Name: name}
	f.networks[projectID] = n
	return n, nil
}

func (f *Fake) CreateSubnet(_ context.Context, projectID, networkID, cidr string) (*identity.Subnet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSubnet"); err != nil {
		return nil, err
	}
	s := &identity.Subnet{ID: f.id("subnet"), NetworkID: networkID, CIDR: cidr}
	f.subnets[networkID] = s
	return s, nil
}

func (f *Fake) CreateRouter(_ context.Context, projectID, name string) (*identity.Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateRouter"); err != nil {
		return nil, err
	}
	r := &identity.Router{ID: f.id("router"), Name: name}
	f.routers[projectID] = r
	return r, nil
}

func (f *Fake) AddRouterInterface(_ context.Context, routerID, subnetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddRouterInterface"); err != nil {
		return err
	}
	f.interfaces[routerID] = subnetID
	return nil
}

func (f *Fake) UpdateQuota(_ context.Context, projectID string, quota identity.Quota) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateQuota"); err != nil {
		return err
	}
	f.quotas[projectID] = quota
	return nil
}
