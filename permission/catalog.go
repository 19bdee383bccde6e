package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Built-in permission names.
const (
	Admin       = "admin"
	ManageUsers = "manage_users"
	ManageRoles = "manage_roles"
	ViewLogs    = "view_logs"
	ViewConfig  = "view_config"
	EditConfig  = "edit_config"
	Read        = "read"
	Write       = "write"
	Create      = "create"
	Delete      = "delete"
	APIAccess   = "api_access"
)

// Permission categories.
const (
	CategoryBasic  = "basic"
	CategoryAdmin  = "admin"
	CategorySystem = "system"
	CategoryAPI    = "api"
	CategoryOther  = "other"
)

var (
	ErrCatalogFrozen     = errors.New("permission: catalog frozen")
	ErrUnknownPermission = errors.New("permission: unknown permission")
)

// Definition describes one permission for display and validation.
type Definition struct {
	Name        string
	Label       string
	Description string
	Category    string
}

// Catalog is the set of permission names roles may carry. It is filled
// during initialization, optionally frozen, and read concurrently after.
type Catalog struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	order  []string
	frozen bool
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// DefaultCatalog returns a Catalog holding the built-in permissions.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, d := range []Definition{
		{Admin, "Administrator", "Full administrative access (grants all permissions)", CategoryAdmin},
		{ManageUsers, "Manage Users", "Create, edit, and manage user accounts", CategoryAdmin},
		{ManageRoles, "Manage Roles", "Create and modify user roles", CategoryAdmin},
		{ViewLogs, "View Logs", "Access activity logs and audit trails", CategorySystem},
		{ViewConfig, "View Configuration", "Read runtime configuration", CategorySystem},
		{EditConfig, "Edit Configuration", "Change runtime configuration", CategorySystem},
		{Read, "Read", "Read panel content", CategoryBasic},
		{Write, "Write", "Edit panel content", CategoryBasic},
		{Create, "Create", "Create panel content", CategoryBasic},
		{Delete, "Delete", "Delete panel content", CategoryBasic},
		{APIAccess, "API Access", "Use the programmatic API", CategoryAPI},
	} {
		c.MustRegister(d)
	}
	return c
}

// Register adds d. Label and Category are derived when empty.
func (c *Catalog) Register(d Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	if d.Name == "" {
		return errors.New("permission: name cannot be empty")
	}
	if _, exists := c.defs[d.Name]; exists {
		return fmt.Errorf("permission: %q already registered", d.Name)
	}
	if d.Label == "" {
		d.Label = labelFor(d.Name)
	}
	if d.Category == "" {
		d.Category = CategoryOther
	}

	c.defs[d.Name] = d
	c.order = append(c.order, d.Name)
	return nil
}

// MustRegister is Register that panics; for package-level setup.
func (c *Catalog) MustRegister(d Definition) {
	if err := c.Register(d); err != nil {
		panic(err)
	}
}

// Freeze prevents further registrations.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Lookup returns the definition of name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Label returns the display label of name, deriving one for unknown names.
func (c *Catalog) Label(name string) string {
	if d, ok := c.Lookup(name); ok {
		return d.Label
	}
	return labelFor(name)
}

// Definitions returns every definition in registration order.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.defs[name])
	}
	return out
}

// ByCategory groups the definitions by category, categories sorted.
func (c *Catalog) ByCategory() map[string][]Definition {
	out := make(map[string][]Definition)
	for _, d := range c.Definitions() {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}

// Categories returns the categories in use, sorted.
func (c *Catalog) Categories() []string {
	groups := c.ByCategory()
	out := make([]string, 0, len(groups))
	for k := range groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate reports the first name in perms the catalog does not know.
func (c *Catalog) Validate(perms []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range perms {
		if _, ok := c.defs[p]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}
	return nil
}

// labelFor turns "manage_users" into "Manage Users".
func labelFor(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
