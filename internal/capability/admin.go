// Package capability holds the built-in bot capabilities.
//
// Capabilities that run privileged commands gate them on the admin identity
// owned by the Admin capability. They look Admin up through the dispatcher
// during the registration pass, so SetAdmin must have been called by then.
package capability

import (
	"errors"
	"strings"
	"sync"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/dispatch"
	"github.com/soyeahso/cmdbot/internal/filter"
)

// Capability names.
const (
	AdminName   = "admin"
	StatusName  = "status"
	ControlName = "control"
	SystemName  = "system"
	GitName     = "git"
	AuditName   = "audit"
)

// ErrAdminAlreadySet is returned, wrapped in a ConfigError, by a second SetAdmin.
var ErrAdminAlreadySet = errors.New("admin identity already set")

// Admin owns the admin predicate. It registers no commands.
type Admin struct {
	mu   sync.Mutex
	pred *filter.IdentityEquals
}

// NewAdmin returns an Admin with no identity set.
func NewAdmin() *Admin { return &Admin{} }

func (a *Admin) Name() string                                { return AdminName }
func (a *Admin) Attach(*dispatch.Dispatcher) error           { return nil }
func (a *Admin) RegisterHandlers(*dispatch.Dispatcher) error { return nil }

// SetAdmin sets the admin identity. It may be called once; later calls fail
// and leave the first identity in place.
func (a *Admin) SetAdmin(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &config.ConfigError{Message: "admin identity must not be empty"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pred != nil {
		return config.Errorf(ErrAdminAlreadySet, "cannot set admin to %q", id)
	}
	a.pred = &filter.IdentityEquals{ID: id}
	return nil
}

// AdminID returns the admin identity and whether it has been set.
func (a *Admin) AdminID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pred == nil {
		return "", false
	}
	return a.pred.ID, true
}

// Filter returns the admin predicate, or an error wrapping
// dispatch.ErrAdminUnset when no identity has been set.
func (a *Admin) Filter() (filter.Predicate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pred == nil {
		return nil, dispatch.ErrAdminUnset
	}
	return *a.pred, nil
}

// adminGate returns the private chain for an admin-only command owned by
// the named capability.
func adminGate(d *dispatch.Dispatcher, owner string) (filter.Chain, error) {
	c, ok := d.Capability(AdminName)
	if !ok {
		return filter.Chain{}, config.Errorf(dispatch.ErrMissingDependency, "capability %q requires %q", owner, AdminName)
	}
	admin, ok := c.(*Admin)
	if !ok {
		return filter.Chain{}, &config.ConfigError{Message: "capability \"admin\" is not *capability.Admin"}
	}
	p, err := admin.Filter()
	if err != nil {
		return filter.Chain{}, config.Errorf(err, "capability %q registered before SetAdmin", owner)
	}
	return filter.NewChain(p), nil
}

// requiresAdmin is embedded by capabilities that depend on Admin.
type requiresAdmin struct{}

func (requiresAdmin) DependsOn() []string { return []string{AdminName} }
