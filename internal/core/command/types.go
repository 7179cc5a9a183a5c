// Package command implements the per-container command registry and
// bounded execution queue: declaration, validation, FIFO admission, and
// drain-with-metrics against the ECS store.
package command

import "fmt"

// ScalarKind is the closed set of parameter/argument value kinds a
// plugin-declared command can carry across the wire.
type ScalarKind int

const (
	ScalarInt64 ScalarKind = iota
	ScalarFloat64
	ScalarBool
	ScalarString
	ScalarList
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarInt64:
		return "int64"
	case ScalarFloat64:
		return "float64"
	case ScalarBool:
		return "bool"
	case ScalarString:
		return "string"
	case ScalarList:
		return "list"
	default:
		return "unknown"
	}
}

// Scalar is a discriminated-union command argument value.
type Scalar struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	S    string
	List []Scalar
}

// Kind is an alias kept for readability at call sites (Scalar.Kind).
type Kind = ScalarKind

func Int64Value(v int64) Scalar     { return Scalar{Kind: ScalarInt64, I: v} }
func Float64Value(v float64) Scalar { return Scalar{Kind: ScalarFloat64, F: v} }
func BoolValue(v bool) Scalar       { return Scalar{Kind: ScalarBool, B: v} }
func StringValue(v string) Scalar   { return Scalar{Kind: ScalarString, S: v} }
func ListValue(v []Scalar) Scalar   { return Scalar{Kind: ScalarList, List: v} }

// Parameter describes one named, typed argument a command accepts.
type Parameter struct {
	Name        string
	Kind        ScalarKind
	Required    bool
	Description string
}

// Handler executes a command's effect against the store. matchID and
// playerID scope the call; params is keyed by Parameter.Name.
type Handler func(matchID string, playerID string, params map[string]Scalar) error

// Descriptor is a module-declared command: name, parameter schema, and
// the handler invoked on drain.
type Descriptor struct {
	Name        string
	Parameters  []Parameter
	Description string
	Handler     Handler
}

func (d Descriptor) paramByName(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ValidationError reports why enqueue() rejected a command synchronously.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %q invalid: %s", e.Name, e.Reason)
}
