// Package schema provides the field metadata table consumed by the generated
// CRUD endpoints. An Entity describes a table-like record type: which fields
// exist, their types, and which operations (read, write, filter, sort) each
// field participates in.
package schema

import (
	"fmt"
	"strings"
)

// FieldType represents the declared type of a field
type FieldType int

const (
	// TypeString is a text field
	TypeString FieldType = iota
	// TypeInt is a 64-bit integer field
	TypeInt
	// TypeFloat is a 64-bit floating point field
	TypeFloat
	// TypeBool is a boolean field
	TypeBool
	// TypeTimestamp is a point in time, normalized to UTC
	TypeTimestamp
	// TypeUUID is a UUID stored in its canonical string form
	TypeUUID
)

// String returns the string representation of the field type
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "string", "text":
		return TypeString, nil
	case "int", "integer", "bigint":
		return TypeInt, nil
	case "float", "double", "number":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "timestamp", "datetime", "time":
		return TypeTimestamp, nil
	case "uuid":
		return TypeUUID, nil
	default:
		return 0, fmt.Errorf("unknown field type: %s", s)
	}
}

// Field describes a single field of an entity
type Field struct {
	Name      string
	Type      FieldType
	Primary   bool // Part of the entity identity
	Generated bool // Value is assigned by the repository on create
	Nullable  bool
	Required  bool // Must be present in a create body

	Readable   bool
	Writable   bool
	Filterable bool
	Sortable   bool
}

// FieldInfo is the metadata boundary view of a field
type FieldInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Readable   bool   `json:"readable"`
	Writable   bool   `json:"writable"`
	Filterable bool   `json:"filterable"`
	Sortable   bool   `json:"sortable"`
}

// Row is a single record keyed by field name. A key present with a nil value
// is an explicit null; an absent key is an omitted field.
type Row map[string]interface{}

// Key identifies a row by the values of its identity fields
type Key map[string]interface{}

// Entity represents the metadata of one record type
type Entity struct {
	Name   string
	Table  string
	Fields []*Field

	// DeletedAtField names the nullable soft-delete timestamp column.
	// Empty disables soft deletion for the entity.
	DeletedAtField string
	CreatedAtField string
	UpdatedAtField string

	index map[string]*Field
}

// NewEntity creates an entity with the given fields. The table defaults to the
// lower-cased entity name.
func NewEntity(name string, fields ...*Field) *Entity {
	e := &Entity{
		Name:           name,
		Table:          strings.ToLower(name),
		Fields:         fields,
		DeletedAtField: "deleted_at",
	}
	e.reindex()
	return e
}

// AddField appends a field to the entity
func (e *Entity) AddField(f *Field) *Entity {
	e.Fields = append(e.Fields, f)
	e.reindex()
	return e
}

func (e *Entity) reindex() {
	e.index = make(map[string]*Field, len(e.Fields))
	for _, f := range e.Fields {
		e.index[f.Name] = f
	}
}

// Field looks up a field by name. Entities declared as literals are scanned
// linearly; fields must be added through AddField once the entity is shared.
func (e *Entity) Field(name string) (*Field, bool) {
	if e.index != nil {
		f, ok := e.index[name]
		return f, ok
	}
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Identity returns the names of the primary fields in declaration order
func (e *Entity) Identity() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Primary {
			names = append(names, f.Name)
		}
	}
	return names
}

// Columns returns every field name in declaration order
func (e *Entity) Columns() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Name)
	}
	return names
}

// SupportsSoftDelete reports whether the entity declares a deletion timestamp
func (e *Entity) SupportsSoftDelete() bool {
	if e.DeletedAtField == "" {
		return false
	}
	_, ok := e.Field(e.DeletedAtField)
	return ok
}

// IsDeleted reports whether a row is soft-deleted
func (e *Entity) IsDeleted(row Row) bool {
	if !e.SupportsSoftDelete() {
		return false
	}
	return row[e.DeletedAtField] != nil
}

// ListFields returns the metadata boundary view of every field
func (e *Entity) ListFields() []FieldInfo {
	infos := make([]FieldInfo, 0, len(e.Fields))
	for _, f := range e.Fields {
		infos = append(infos, FieldInfo{
			Name:       f.Name,
			Type:       f.Type.String(),
			Readable:   f.Readable,
			Writable:   f.Writable,
			Filterable: f.Filterable,
			Sortable:   f.Sortable,
		})
	}
	return infos
}

// KeyOf extracts the identity values of a row
func (e *Entity) KeyOf(row Row) Key {
	key := make(Key)
	for _, name := range e.Identity() {
		key[name] = row[name]
	}
	return key
}

// Normalize coerces every known value of a row to its canonical Go type.
// Unknown keys are dropped.
func (e *Entity) Normalize(row Row) (Row, error) {
	out := make(Row, len(row))
	for _, f := range e.Fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		if v == nil {
			out[f.Name] = nil
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

// Validate checks the entity definition for structural errors
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity %s has no fields", e.Name)
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %s has a field without a name", e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("entity %s declares field %s twice", e.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Primary && f.Nullable {
			return fmt.Errorf("primary field %s.%s cannot be nullable", e.Name, f.Name)
		}
	}

	if len(e.Identity()) == 0 {
		return fmt.Errorf("entity %s has no primary field", e.Name)
	}

	if e.DeletedAtField != "" {
		if f, ok := e.Field(e.DeletedAtField); ok {
			if f.Type != TypeTimestamp || !f.Nullable {
				return fmt.Errorf("soft delete field %s.%s must be a nullable timestamp", e.Name, f.Name)
			}
		}
	}

	return nil
}
