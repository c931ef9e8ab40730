package store

import (
	"fmt"
	"strings"
)

// NotFoundError reports keys that resolved to no record. For bulk operations
// Keys names every missing key, not just the first.
type NotFoundError struct {
	Collection string
	Keys       []string
}

func (e *NotFoundError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s: record not found", e.Collection)
	}
	return fmt.Sprintf("%s: record(s) not found: %s", e.Collection, strings.Join(e.Keys, ", "))
}

// ConflictError reports a conflicting state: a constraint violation on
// persist, a soft-deleted upsert target, or a destroy with no configured
// primary key.
type ConflictError struct {
	Collection string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict: %s", e.Collection, e.Reason)
}

// UnsupportedOperationError reports a query operator the active backend
// cannot execute, or an operator used with an unusable argument.
type UnsupportedOperationError struct {
	Operator string
	Reason   string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %q: %s", e.Operator, e.Reason)
}

// ConfigurationError reports a setup-time misconfiguration (e.g. a
// collection registered without a primary key).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
