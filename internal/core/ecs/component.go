package ecs

import "fmt"

// FieldKind enumerates the primitive value types a component field may
// hold. Components are plugin-declared data records, not Go types
// implementing an interface, so field values are carried as a closed
// sum type rather than arbitrary interface{} payloads.
type FieldKind int

const (
	FieldInt64 FieldKind = iota
	FieldFloat64
	FieldBool
	FieldString
)

// String implements fmt.Stringer for FieldKind.
func (k FieldKind) String() string {
	switch k {
	case FieldInt64:
		return "int64"
	case FieldFloat64:
		return "float64"
	case FieldBool:
		return "bool"
	case FieldString:
		return "string"
	default:
		return "unknown"
	}
}

// FieldSchema describes one named field of a component.
type FieldSchema struct {
	Name string
	Kind FieldKind
}

// ComponentSchema describes the shape of a component type as declared by
// a plugin module. Two components of the same ComponentType always carry
// the same field schema within one container.
type ComponentSchema struct {
	Type   ComponentType
	Fields []FieldSchema
}

// FieldValue holds one field's value, discriminated by Kind so storage
// and the command pipeline can validate without reflection.
type FieldValue struct {
	Kind FieldKind
	I    int64
	F    float64
	B    bool
	S    string
}

// Int64Value constructs an int64 field value.
func Int64Value(v int64) FieldValue { return FieldValue{Kind: FieldInt64, I: v} }

// Float64Value constructs a float64 field value.
func Float64Value(v float64) FieldValue { return FieldValue{Kind: FieldFloat64, F: v} }

// BoolValue constructs a bool field value.
func BoolValue(v bool) FieldValue { return FieldValue{Kind: FieldBool, B: v} }

// StringValue constructs a string field value.
func StringValue(v string) FieldValue { return FieldValue{Kind: FieldString, S: v} }

// Component is one component instance: the ordered field values matching
// its schema's field order.
type Component struct {
	Type   ComponentType
	Values []FieldValue
}

// Validate checks that a component's values match the given schema's
// field count and kinds, in order.
func (c Component) Validate(schema ComponentSchema) error {
	if c.Type != schema.Type {
		return NewComponentError(ErrArityMismatch,
			fmt.Sprintf("component type %q does not match schema %q", c.Type, schema.Type),
			InvalidEntityID, c.Type)
	}
	if len(c.Values) != len(schema.Fields) {
		return NewComponentError(ErrArityMismatch,
			fmt.Sprintf("component %q has %d values, schema declares %d fields", c.Type, len(c.Values), len(schema.Fields)),
			InvalidEntityID, c.Type)
	}
	for i, f := range schema.Fields {
		if c.Values[i].Kind != f.Kind {
			return NewComponentError(ErrArityMismatch,
				fmt.Sprintf("component %q field %q: expected %s, got %s", c.Type, f.Name, f.Kind, c.Values[i].Kind),
				InvalidEntityID, c.Type)
		}
	}
	return nil
}

// Clone returns a deep copy of the component (FieldValue is already a
// value type, so this is a slice copy).
func (c Component) Clone() Component {
	values := make([]FieldValue, len(c.Values))
	copy(values, c.Values)
	return Component{Type: c.Type, Values: values}
}
