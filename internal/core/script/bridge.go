package script

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// LuaBridge is the default Bridge implementation backed by gopher-lua.
type LuaBridge struct{}

// NewBridge constructs the default Lua bridge.
func NewBridge() Bridge {
	return &LuaBridge{}
}

func (b *LuaBridge) CreateVM(config *VMConfig) (*VM, error) {
	if config == nil {
		config = &VMConfig{
			SandboxEnabled: true,
			ResourceLimits: &ResourceLimits{
				MaxExecutionTime: 100 * time.Millisecond,
				MaxMemoryUsage:   10 * 1024 * 1024,
			},
		}
	}

	state := lua.NewState()
	if state == nil {
		return nil, errors.New("failed to create Lua state")
	}

	var sandbox *Sandbox
	if config.SandboxEnabled {
		sandbox = &Sandbox{
			FileSystemRestricted: true,
			NetworkRestricted:    true,
			OSCommandsBlocked:    true,
		}
		if err := applySandbox(state, sandbox); err != nil {
			state.Close()
			return nil, fmt.Errorf("apply sandbox: %w", err)
		}
	}

	return &VM{
		state:     state,
		sandbox:   sandbox,
		resources: config.ResourceLimits,
	}, nil
}

func (b *LuaBridge) DestroyVM(vm *VM) error {
	if vm == nil || vm.state == nil {
		return errors.New("vm is nil")
	}
	vm.state.Close()
	return nil
}

func (b *LuaBridge) LoadScript(vm *VM, scriptPath string) (*Script, error) {
	return &Script{
		path:   scriptPath,
		loaded: false,
		metadata: &ScriptMetadata{
			Name:       scriptPath,
			Version:    "1.0.0",
			APIVersion: "1.0.0",
		},
	}, nil
}

func (b *LuaBridge) UnloadScript(vm *VM, script *Script) error {
	if script == nil {
		return errors.New("script is nil")
	}
	script.loaded = false
	return nil
}

func (b *LuaBridge) ExecuteScript(vm *VM, script *Script) error {
	if vm == nil || vm.state == nil {
		return errors.New("vm or vm state is nil")
	}
	if script == nil {
		return errors.New("script is nil")
	}

	if err := vm.state.DoString("-- empty script"); err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}

	script.loaded = true
	return nil
}

func (b *LuaBridge) GoToLua(vm *VM, value interface{}) (lua.LValue, error) {
	if vm == nil || vm.state == nil {
		return nil, errors.New("vm or vm state is nil")
	}
	return convertGoToLua(vm.state, value)
}

func (b *LuaBridge) LuaToGo(vm *VM, value lua.LValue, target interface{}) error {
	if vm == nil || vm.state == nil {
		return errors.New("vm or vm state is nil")
	}
	return convertLuaToGo(value, target)
}

func applySandbox(state *lua.LState, sandbox *Sandbox) error {
	if sandbox == nil {
		return nil
	}

	if sandbox.FileSystemRestricted {
		state.SetGlobal("io", lua.LNil)
		state.SetGlobal("dofile", lua.LNil)
		state.SetGlobal("loadfile", lua.LNil)
	}

	if sandbox.OSCommandsBlocked {
		state.SetGlobal("os", lua.LNil)
	}

	state.SetGlobal("debug", lua.LNil)
	state.SetGlobal("package", lua.LNil)
	state.SetGlobal("require", lua.LNil)

	return nil
}

func convertGoToLua(state *lua.LState, value interface{}) (lua.LValue, error) {
	if value == nil {
		return lua.LNil, nil
	}

	switch v := value.(type) {
	case string:
		return lua.LString(v), nil
	case int:
		return lua.LNumber(float64(v)), nil
	case int64:
		return lua.LNumber(float64(v)), nil
	case float32:
		return lua.LNumber(float64(v)), nil
	case float64:
		return lua.LNumber(v), nil
	case bool:
		return lua.LBool(v), nil
	case []string:
		table := state.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, lua.LString(item))
		}
		return table, nil
	case []int:
		table := state.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, lua.LNumber(float64(item)))
		}
		return table, nil
	case map[string]interface{}:
		table := state.NewTable()
		for key, val := range v {
			luaVal, err := convertGoToLua(state, val)
			if err != nil {
				return nil, err
			}
			table.RawSetString(key, luaVal)
		}
		return table, nil
	default:
		return convertStructToLua(state, value)
	}
}

func convertStructToLua(state *lua.LState, value interface{}) (lua.LValue, error) {
	v := reflect.ValueOf(value)
	t := reflect.TypeOf(value)

	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported type: %T", value)
	}

	table := state.NewTable()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanInterface() {
			continue
		}

		fieldName := fieldType.Name
		if tag := fieldType.Tag.Get("json"); tag != "" && tag != "-" {
			fieldName = tag
		}

		luaVal, err := convertGoToLua(state, field.Interface())
		if err != nil {
			return nil, fmt.Errorf("convert field %s: %w", fieldName, err)
		}

		table.RawSetString(fieldName, luaVal)
	}

	return table, nil
}

func convertLuaToGo(value lua.LValue, target interface{}) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr {
		return errors.New("target must be a pointer")
	}

	targetElem := targetValue.Elem()

	switch value.Type() {
	case lua.LTString:
		if targetElem.Kind() == reflect.String {
			targetElem.SetString(string(value.(lua.LString)))
			return nil
		}
	case lua.LTNumber:
		num := float64(value.(lua.LNumber))
		switch targetElem.Kind() {
		case reflect.Int:
			targetElem.SetInt(int64(num))
			return nil
		case reflect.Float64:
			targetElem.SetFloat(num)
			return nil
		}
	case lua.LTBool:
		if targetElem.Kind() == reflect.Bool {
			targetElem.SetBool(bool(value.(lua.LBool)))
			return nil
		}
	case lua.LTTable:
		if targetElem.Kind() == reflect.Slice {
			return convertLuaTableToSlice(value.(*lua.LTable), target)
		}
	case lua.LTNil:
		targetElem.Set(reflect.Zero(targetElem.Type()))
		return nil
	}

	return fmt.Errorf("cannot convert Lua %s to Go %s", value.Type(), targetElem.Kind())
}

func convertLuaTableToSlice(table *lua.LTable, target interface{}) error {
	targetValue := reflect.ValueOf(target).Elem()
	elemType := targetValue.Type().Elem()

	var slice reflect.Value

	table.ForEach(func(key, value lua.LValue) {
		if !slice.IsValid() {
			slice = reflect.MakeSlice(targetValue.Type(), 0, 0)
		}

		elem := reflect.New(elemType).Elem()

		switch elemType.Kind() {
		case reflect.String:
			if value.Type() == lua.LTString {
				elem.SetString(string(value.(lua.LString)))
			}
		case reflect.Int:
			if value.Type() == lua.LTNumber {
				elem.SetInt(int64(float64(value.(lua.LNumber))))
			}
		case reflect.Float64:
			if value.Type() == lua.LTNumber {
				elem.SetFloat(float64(value.(lua.LNumber)))
			}
		}

		slice = reflect.Append(slice, elem)
	})

	if slice.IsValid() {
		targetValue.Set(slice)
	}

	return nil
}
