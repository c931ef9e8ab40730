// Package collection holds the startup-time configuration of record
// collections: primary keys, allow-lists, column sets, soft-delete policy
// and relation definitions. Configuration is explicit structs built at
// startup and validated once; nothing is discovered at request time.
package collection

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

// DefaultSoftDeleteColumn is used when a collection enables soft delete
// without naming a marker column.
const DefaultSoftDeleteColumn = "deleted_at"

// Relation defines how a named relation of a collection is resolved.
type Relation struct {
	// Target is the related collection name.
	Target string
	// LocalKey is the column on this collection matched against the
	// target's ForeignKey. Defaults to the first primary key.
	LocalKey string
	// ForeignKey is the column on the target collection.
	ForeignKey string
	// HasMany attaches a record slice instead of a single record.
	HasMany bool
}

// Collection is the per-collection route configuration consumed by the
// query parser and the CRUD orchestrator.
type Collection struct {
	Name       string
	PrimaryKey []string
	// Columns is the set of known columns. Index queries are narrowed to
	// this set when non-empty.
	Columns []string

	// Allow-lists. A nil list means unrestricted; an empty non-nil list
	// permits nothing.
	Filterable []string
	Sortable   []string
	Includable []string

	// Excluded fields are removed after fetch/save and before
	// serialization; they always win over schema-level visibility.
	Excluded []string
	// Hidden fields are the schema-declared invisible columns, applied by
	// the serializer after the exclude set.
	Hidden []string

	SoftDelete       bool
	SoftDeleteColumn string

	// DefaultPageSize overrides the global default for this collection.
	DefaultPageSize int

	Relations map[string]Relation
}

// Validate checks the collection configuration at registration time.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return &store.ConfigurationError{Reason: "collection name is required"}
	}
	if c.SoftDelete && c.SoftDeleteColumn == "" {
		c.SoftDeleteColumn = DefaultSoftDeleteColumn
	}
	for name, rel := range c.Relations {
		if rel.Target == "" {
			return &store.ConfigurationError{
				Reason: fmt.Sprintf("collection %s: relation %s has no target", c.Name, name),
			}
		}
		if rel.ForeignKey == "" && !rel.HasMany {
			return &store.ConfigurationError{
				Reason: fmt.Sprintf("collection %s: relation %s has no foreign key", c.Name, name),
			}
		}
	}
	return nil
}

// PrimaryKeyColumn returns the routing key column: the first configured
// primary key, or "id" when none is configured.
func (c *Collection) PrimaryKeyColumn() string {
	if len(c.PrimaryKey) > 0 {
		return c.PrimaryKey[0]
	}
	return "id"
}

func allowed(list []string, field string) bool {
	if list == nil {
		return true
	}
	for _, f := range list {
		if f == field {
			return true
		}
		// Allowing a relation permits its scoped fields.
		if strings.HasPrefix(field, f+".") {
			return true
		}
	}
	return false
}

// FilterAllowed reports whether the (possibly dotted) field may be filtered.
func (c *Collection) FilterAllowed(field string) bool { return allowed(c.Filterable, field) }

// SortAllowed reports whether the (possibly dotted) field may be sorted.
func (c *Collection) SortAllowed(field string) bool { return allowed(c.Sortable, field) }

// IncludeAllowed reports whether the (possibly dotted) relation entry may be
// included.
func (c *Collection) IncludeAllowed(entry string) bool { return allowed(c.Includable, entry) }

// Registry is the set of configured collections, built once at startup.
type Registry struct {
	collections map[string]*Collection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Register validates and adds a collection. Registering a duplicate name is
// a configuration error.
func (r *Registry) Register(c *Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, exists := r.collections[c.Name]; exists {
		return &store.ConfigurationError{Reason: "duplicate collection: " + c.Name}
	}
	r.collections[c.Name] = c
	return nil
}

// Get returns the collection by name.
func (r *Registry) Get(name string) (*Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

// Names returns the registered collection names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	return names
}
