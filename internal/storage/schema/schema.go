// Package schema is the registry of known collections: their physical table
// names, native columns, field aliases, foreign-key policies and the
// human-readable lookups used when importing data.
package schema

import (
	"sort"
)

// FKPolicy decides what happens to a malformed foreign key.
type FKPolicy int

const (
	// Reject fails the write with a validation error.
	Reject FKPolicy = iota
	// Nullify clears the reference and keeps the record.
	Nullify
)

func (p FKPolicy) String() string {
	if p == Nullify {
		return "null"
	}
	return "reject"
}

// ForeignKey describes a reference from Field to a record of Target.
type ForeignKey struct {
	Field    string
	Target   string
	Policy   FKPolicy
	Required bool
}

// Lookup resolves a human-readable reference (e.g. client_name) to the id of
// the Target record whose TargetField matches, stored into Sets.
type Lookup struct {
	Field       string
	Target      string
	TargetField string
	Sets        string
}

// Collection is the schema of one logical collection.
type Collection struct {
	Name        string
	Table       string
	Columns     []string
	Aliases     map[string]string
	ForeignKeys []ForeignKey
	Lookups     []Lookup
	JSONColumns []string

	columns map[string]struct{}
}

// System columns present on every table.
var systemColumns = []string{
	"id", "created_at", "updated_at",
	"version", "last_modified_at", "last_modified_by", "sync_status",
}

// TenantColumn scopes rows on the shared store. It is never accepted from
// callers and never returned to them.
const TenantColumn = "tenant_id"

var registry = map[string]*Collection{}

func register(c *Collection) {
	if c.Table == "" {
		c.Table = c.Name
	}
	c.Columns = append(append([]string{}, systemColumns...), c.Columns...)
	c.columns = make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		c.columns[col] = struct{}{}
	}
	registry[c.Name] = c
}

func init() {
	register(&Collection{
		Name:    "clients",
		Columns: []string{"name", "email", "phone", "address", "notes"},
	})
	register(&Collection{
		Name:    "cases",
		Columns: []string{"client_id", "case_number", "title", "status", "court", "description", "opened_at", "closed_at"},
		Aliases: map[string]string{"number": "case_number"},
		ForeignKeys: []ForeignKey{
			{Field: "client_id", Target: "clients", Policy: Reject, Required: true},
		},
		Lookups: []Lookup{
			{Field: "client_name", Target: "clients", TargetField: "name", Sets: "client_id"},
		},
	})
	register(&Collection{
		Name:    "hearings",
		Columns: []string{"case_id", "title", "scheduled_at", "location", "notes"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Reject, Required: true},
		},
		Lookups: []Lookup{
			{Field: "case_number", Target: "cases", TargetField: "case_number", Sets: "case_id"},
		},
	})
	register(&Collection{
		Name:    "tasks",
		Columns: []string{"case_id", "title", "description", "due_date", "status", "priority", "assignee"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Nullify},
		},
		Lookups: []Lookup{
			{Field: "case_number", Target: "cases", TargetField: "case_number", Sets: "case_id"},
		},
	})
	register(&Collection{
		Name:    "notes",
		Columns: []string{"case_id", "client_id", "title", "content"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Nullify},
			{Field: "client_id", Target: "clients", Policy: Nullify},
		},
	})
	register(&Collection{
		Name:    "folders",
		Table:   "document_folders",
		Columns: []string{"case_id", "parent_id", "name"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Nullify},
			{Field: "parent_id", Target: "folders", Policy: Nullify},
		},
	})
	register(&Collection{
		Name:    "documents",
		Columns: []string{"case_id", "folder_id", "name", "file_path", "mime_type", "size"},
		Aliases: map[string]string{"path": "file_path"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Nullify},
			{Field: "folder_id", Target: "folders", Policy: Nullify},
		},
		Lookups: []Lookup{
			{Field: "folder_name", Target: "folders", TargetField: "name", Sets: "folder_id"},
		},
	})
	register(&Collection{
		Name:    "contacts",
		Columns: []string{"client_id", "name", "role", "email", "phone"},
		ForeignKeys: []ForeignKey{
			{Field: "client_id", Target: "clients", Policy: Nullify},
		},
		Lookups: []Lookup{
			{Field: "client_name", Target: "clients", TargetField: "name", Sets: "client_id"},
		},
	})
	register(&Collection{
		Name:    "time_entries",
		Columns: []string{"case_id", "description", "minutes", "date", "billable", "rate"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Reject, Required: true},
		},
		Lookups: []Lookup{
			{Field: "case_number", Target: "cases", TargetField: "case_number", Sets: "case_id"},
		},
	})
	register(&Collection{
		Name:    "calendar_events",
		Columns: []string{"case_id", "hearing_id", "title", "starts_at", "ends_at", "location"},
		ForeignKeys: []ForeignKey{
			{Field: "case_id", Target: "cases", Policy: Nullify},
			{Field: "hearing_id", Target: "hearings", Policy: Nullify},
		},
	})
	register(&Collection{
		Name:        "task_bundles",
		Columns:     []string{"name", "trigger", "tasks"},
		JSONColumns: []string{"tasks"},
	})
	register(&Collection{
		Name:    "notification_templates",
		Columns: []string{"name", "channel", "subject", "body"},
	})
	register(&Collection{
		Name:        "audit_logs",
		Table:       "audit_log",
		Columns:     []string{"entity_type", "entity_id", "action_type", "actor_id", "timestamp", "details"},
		JSONColumns: []string{"details"},
	})
}

// Get returns the schema of a known collection.
func Get(name string) (*Collection, bool) {
	c, ok := registry[name]
	return c, ok
}

// Table maps a logical collection name to its physical table name.
// Unknown collections map 1:1.
func Table(name string) string {
	if c, ok := registry[name]; ok {
		return c.Table
	}
	return name
}

// Logical maps a physical table name back to its collection name.
func Logical(table string) string {
	for _, c := range registry {
		if c.Table == table {
			return c.Name
		}
	}
	return table
}

// Names returns all known collections in dependency order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return DependencyOrder(names)
}

// HasColumn reports whether col is a native column of c.
func (c *Collection) HasColumn(col string) bool {
	_, ok := c.columns[col]
	return ok
}

// IsJSON reports whether col holds a JSON document.
func (c *Collection) IsJSON(col string) bool {
	for _, j := range c.JSONColumns {
		if j == col {
			return true
		}
	}
	return false
}

// ForeignKey returns the foreign key declared on field.
func (c *Collection) ForeignKey(field string) (ForeignKey, bool) {
	for _, fk := range c.ForeignKeys {
		if fk.Field == field {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// Dependency is a reference from Collection.Field to another collection.
type Dependency struct {
	Collection string
	Field      string
}

// Dependents lists every foreign key that points at target, excluding
// self references.
func Dependents(target string) []Dependency {
	var out []Dependency
	for _, c := range registry {
		if c.Name == target {
			continue
		}
		for _, fk := range c.ForeignKeys {
			if fk.Target == target {
				out = append(out, Dependency{Collection: c.Name, Field: fk.Field})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// DependencyOrder sorts names so that referenced collections come before the
// collections referencing them. Ties and unknown collections keep
// alphabetical order; unknown collections go last.
func DependencyOrder(names []string) []string {
	in := make(map[string]bool, len(names))
	for _, n := range names {
		in[n] = true
	}

	deps := make(map[string]map[string]bool, len(names))
	for _, n := range names {
		deps[n] = map[string]bool{}
		if c, ok := registry[n]; ok {
			for _, fk := range c.ForeignKeys {
				if fk.Target != n && in[fk.Target] {
					deps[n][fk.Target] = true
				}
			}
		}
	}

	var known, unknown []string
	for n := range in {
		if _, ok := registry[n]; ok {
			known = append(known, n)
		} else {
			unknown = append(unknown, n)
		}
	}
	sort.Strings(known)
	sort.Strings(unknown)

	out := make([]string, 0, len(names))
	done := make(map[string]bool, len(names))
	for len(out) < len(known) {
		progressed := false
		for _, n := range known {
			if done[n] {
				continue
			}
			ready := true
			for d := range deps[n] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				done[n] = true
				out = append(out, n)
				progressed = true
			}
		}
		if !progressed {
			// cycle: emit the rest alphabetically
			for _, n := range known {
				if !done[n] {
					done[n] = true
					out = append(out, n)
				}
			}
		}
	}
	return append(out, unknown...)
}
