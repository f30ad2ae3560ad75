// Package permission implements the role-based gate consulted at every
// public engine entry point.
package permission

import "github.com/VochanecA/TextDBX/internal/errs"

// Action names the engine recognizes for permission checks.
const (
	ActionQuery            = "query"
	ActionInsert           = "insert"
	ActionUpdate           = "update"
	ActionDelete           = "delete"
	ActionIndex            = "index"
	ActionCreateCollection = "create_collection"
	ActionDropCollection   = "drop_collection"
	ActionBackup           = "backup"
	ActionRestore          = "restore"
)

// Table is a static role -> allowed-actions map.
type Table map[string][]string

// DefaultTable is the built-in role set: admin may do everything, editor
// may read and write data but not manage collections or backups, reader
// is query-only.
func DefaultTable() Table {
	return Table{
		"admin": {
			ActionQuery, ActionInsert, ActionUpdate, ActionDelete, ActionIndex,
			ActionCreateCollection, ActionDropCollection, ActionBackup, ActionRestore,
		},
		"editor": {
			ActionQuery, ActionInsert, ActionUpdate, ActionDelete, ActionIndex,
		},
		"reader": {
			ActionQuery,
		},
	}
}

// Check verifies that role is permitted to perform action. Absence of the
// role or of the action within its allowed set yields a permission error
// enumerating the role's allowed actions.
func (t Table) Check(role, action string) error {
	allowed, ok := t[role]
	if !ok {
		return errs.Permission(role, action, nil)
	}
	for _, a := range allowed {
		if a == action {
			return nil
		}
	}
	return errs.Permission(role, action, allowed)
}

// Allowed returns the actions permitted for role, or nil if the role is
// unknown.
func (t Table) Allowed(role string) []string {
	return t[role]
}
