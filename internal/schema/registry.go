// Package schema declares the tracked entity tables and their referential
// topology. The registry is fixed at compile time: every component that
// dispatches per table (detector, applier, audit wiring) resolves against it
// at startup, so an unwired table is a boot failure instead of a silent no-op.
package schema

import "fmt"

// Table describes one tracked entity table. Parent names the referenced table
// and ParentKey the attribute holding the referenced id; both are empty for
// root tables.
type Table struct {
	Name      string
	Parent    string
	ParentKey string
}

// Changelog returns the audit table paired with this entity table.
func (t Table) Changelog() string {
	return t.Name + "_changelog"
}

// tracked lists the registry tables in dependency order, parents before the
// children that reference them.
var tracked = []Table{
	{Name: "logies"},
	{Name: "addresses", Parent: "logies", ParentKey: "logies_id"},
	{Name: "contact_points", Parent: "logies", ParentKey: "logies_id"},
	{Name: "geometries", Parent: "logies", ParentKey: "logies_id"},
	{Name: "identifiers", Parent: "logies", ParentKey: "logies_id"},
}

// Tables returns all tracked tables in dependency order.
func Tables() []Table {
	out := make([]Table, len(tracked))
	copy(out, tracked)
	return out
}

// TableNames returns the tracked table names in dependency order.
func TableNames() []string {
	names := make([]string, len(tracked))
	for i, t := range tracked {
		names[i] = t.Name
	}
	return names
}

// Lookup resolves a tracked table by name.
func Lookup(name string) (Table, error) {
	for _, t := range tracked {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("table %q is not tracked", name)
}

// IsTracked reports whether name belongs to the registry.
func IsTracked(name string) bool {
	_, err := Lookup(name)
	return err == nil
}

// DependencyOrder returns table names parents-first: safe order for CREATE,
// since a parent row always lands before children referencing it.
func DependencyOrder() []string {
	return TableNames()
}

// ReverseDependencyOrder returns table names children-first: safe order for
// REMOVE, since child rows disappear before the parent they reference.
func ReverseDependencyOrder() []string {
	names := TableNames()
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
