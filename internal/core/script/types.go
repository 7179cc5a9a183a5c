// Package script provides the per-container Lua sandbox a plugin
// module's bytecode runs inside. Every container gets its own
// lua.LState, so two containers loading the same plugin bytes never
// share globals or state.
package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Bridge manages Lua VM lifecycle, script loading, and Go<->Lua value
// conversion for a container's plugin sandbox.
type Bridge interface {
	CreateVM(config *VMConfig) (*VM, error)
	DestroyVM(vm *VM) error

	LoadScript(vm *VM, path string) (*Script, error)
	UnloadScript(vm *VM, script *Script) error
	ExecuteScript(vm *VM, script *Script) error

	GoToLua(vm *VM, value interface{}) (lua.LValue, error)
	LuaToGo(vm *VM, value lua.LValue, target interface{}) error
}

// VM wraps one container's Lua state.
type VM struct {
	state     *lua.LState
	sandbox   *Sandbox
	resources *ResourceLimits
}

// VMConfig configures a new VM.
type VMConfig struct {
	SandboxEnabled bool
	ResourceLimits *ResourceLimits
}

// Script tracks a loaded plugin chunk.
type Script struct {
	path     string
	loaded   bool
	metadata *ScriptMetadata
}

// ScriptMetadata describes a plugin module's Lua chunk.
type ScriptMetadata struct {
	Name       string
	Version    string
	APIVersion string
}

// ResourceLimits describes one container's plugin execution limits,
// mirroring the container Config's maxExecutionTimeMs/maxMemoryMb
// fields. CreateVM stores them on the VM; the bridge does not enforce
// them.
type ResourceLimits struct {
	MaxExecutionTime time.Duration
	MaxMemoryUsage   int64
}

// Sandbox controls which standard Lua libraries are disabled.
type Sandbox struct {
	FileSystemRestricted bool
	NetworkRestricted    bool
	OSCommandsBlocked    bool
}
