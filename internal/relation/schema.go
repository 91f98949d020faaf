// Package relation implements the stored-relation layer of spec.md §4.4:
// typed tuples persisted through kv.StoreTx, with triggers and secondary
// indexes.
package relation

import (
	"strata/internal/errs"
	"strata/internal/value"
)

// AccessLevel gates destructive operations on a relation, ordered
// Hidden < ReadOnly < Protected < Normal.
type AccessLevel uint8

const (
	Hidden AccessLevel = iota
	ReadOnly
	Protected
	Normal
)

func (l AccessLevel) String() string {
	switch l {
	case Hidden:
		return "hidden"
	case ReadOnly:
		return "read_only"
	case Protected:
		return "protected"
	case Normal:
		return "normal"
	default:
		return "unknown"
	}
}

// ColumnDef is one column of a relation schema.
type ColumnDef struct {
	Name    string
	Type    value.ColumnType
	Default func() (value.Value, error) // nil if the column has no default generator
}

// TriggerSet holds the three textual-program trigger lists a relation may
// carry. Bodies are opaque to this package; internal/imperative's Executor
// runs them through the runner its TriggerRunnerFor returns.
type TriggerSet struct {
	OnPut     []string
	OnRm      []string
	OnReplace []string
}

// RelationSchema is the typed shape of a stored relation: keys, non-keys,
// access level and triggers, per spec.md §3/§4.4.
type RelationSchema struct {
	Name        string
	Keys        []ColumnDef
	NonKeys     []ColumnDef
	AccessLevel AccessLevel
	Triggers    TriggerSet
}

// Arity is len(Keys) + len(NonKeys).
func (s *RelationSchema) Arity() int { return len(s.Keys) + len(s.NonKeys) }

// NewRelationSchema validates and constructs a schema: column names must be
// unique across keys and non-keys, and no key column may have a
// Null-producing default unless it is itself nullable.
func NewRelationSchema(name string, keys, nonKeys []ColumnDef, level AccessLevel, triggers TriggerSet) (*RelationSchema, error) {
	seen := make(map[string]bool, len(keys)+len(nonKeys))
	for _, c := range keys {
		if seen[c.Name] {
			return nil, errs.New(errs.Conflict, "duplicate column name %q in relation %q", c.Name, name)
		}
		seen[c.Name] = true
	}
	for _, c := range nonKeys {
		if seen[c.Name] {
			return nil, errs.New(errs.Conflict, "duplicate column name %q in relation %q", c.Name, name)
		}
		seen[c.Name] = true
	}
	for _, c := range keys {
		if c.Default != nil && !c.Type.Nullable {
			v, err := c.Default()
			if err == nil {
				if _, isNull := v.(value.Null); isNull {
					return nil, errs.New(errs.Schema, "key column %q has a Null-producing default but is not nullable", c.Name)
				}
			}
		}
	}
	return &RelationSchema{
		Name:        name,
		Keys:        keys,
		NonKeys:     nonKeys,
		AccessLevel: level,
		Triggers:    triggers,
	}, nil
}

// ColumnIndex returns the position of name within Keys++NonKeys, or -1.
func (s *RelationSchema) ColumnIndex(name string) int {
	for i, c := range s.Keys {
		if c.Name == name {
			return i
		}
	}
	for i, c := range s.NonKeys {
		if c.Name == name {
			return len(s.Keys) + i
		}
	}
	return -1
}

// RequireAccess fails unless the schema's access level is at least min.
func (s *RelationSchema) RequireAccess(min AccessLevel) error {
	if s.AccessLevel < min {
		return errs.New(errs.Access, "relation %q requires access level >= %s, has %s", s.Name, min, s.AccessLevel)
	}
	return nil
}
