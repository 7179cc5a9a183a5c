// Package container owns one multi-tenant simulation instance: the ECS
// store, command pipeline, snapshot engine, tick loop, session service,
// and match/player registry for a single isolated plugin sandbox, plus
// the Manager that multiplexes many such containers.
package container

import (
	"fmt"
	"time"

	"forgeloop/internal/core/command"
	"forgeloop/internal/core/ecs"
	"forgeloop/internal/core/tick"
)

// State is a container's position in the create/start/run/stop
// lifecycle. It mirrors tick.Loop's own state machine one-to-one, with
// the loop's Idle named Created (a container with no loop running has
// nothing else to be); Stopped is terminal.
type State int

const (
	Created State = iota
	Running
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

func fromTickState(ts tick.State) State {
	switch ts {
	case tick.Idle:
		return Created
	case tick.Running:
		return Running
	case tick.Playing:
		return Playing
	case tick.Paused:
		return Paused
	case tick.Stopped:
		return Stopped
	default:
		return Created
	}
}

// ContainerError reports an API-precondition violation: a lifecycle
// transition, a reference to a container/match/resource that does not
// exist. Kind is one of the spec's enumerated error kinds (not a Go
// type name), so callers can switch on it across package boundaries.
type ContainerError struct {
	Kind      string
	ID        string
	Operation string
	Reason    string
	Timestamp time.Time
}

func (e *ContainerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("[%s] %s (id=%s): %s", e.Kind, e.Operation, e.ID, e.Reason)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, e.Reason)
}

func newContainerError(kind, id, op, reason string) *ContainerError {
	return &ContainerError{Kind: kind, ID: id, Operation: op, Reason: reason, Timestamp: time.Now()}
}

// Error kinds from spec.md §7 that this package surfaces directly.
const (
	KindInvalidLifecycleTransition = "InvalidLifecycleTransition"
	KindContainerNotFound          = "ContainerNotFound"
	KindMatchNotFound              = "MatchNotFound"
	KindSnapshotNotInHistory       = "SnapshotNotInHistory"
	KindResourceNotFound           = "ResourceNotFound"
	KindMemoryBudgetExceeded       = "MemoryBudgetExceeded"
	KindPluginLoadFailure          = "PluginLoadFailure"
	KindPluginIsolationFailure     = "PluginIsolationFailure"
)

// Module is the contract a plugin package exposes to a container: the
// component schemas it owns, the systems it runs every tick, and the
// commands it exposes for external callers to enqueue.
type Module interface {
	Name() string
	Components() []ecs.ComponentSchema
	FlagComponent() (ecs.ComponentSchema, bool)
	Systems() []tick.System
	Commands() []command.Descriptor
}

// AI is the contract a plugin's autonomous-actor package exposes: a
// name and a per-tick decision function that may enqueue commands
// through the context it's handed.
type AI interface {
	Name() string
	Tick(ctx *AIContext) error
}

// AIContext is the read-only view and command-enqueue callback handed
// to an AI's Tick method. Store access is by convention read-only — an
// AI expresses intent through EnqueueCommand, never by mutating the
// store directly, matching spec.md §6's "ctx gives read-only store
// access and an enqueueCommand callback."
type AIContext struct {
	Store          *ecs.Store
	MatchID        string
	EnqueueCommand func(name string, playerID string, params map[string]command.Scalar) error
}

// Resource is an opaque blob the container catalogs on behalf of a
// module: textures, audio, or any other byte payload a plugin ships
// alongside its code.
type Resource struct {
	ID    string
	Name  string
	Type  string
	Bytes []byte
}
