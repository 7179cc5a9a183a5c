package script

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func setupTestVM(t *testing.T, bridge Bridge) *VM {
	config := &VMConfig{
		SandboxEnabled: false,
		ResourceLimits: &ResourceLimits{
			MaxExecutionTime: 1 * time.Second,
			MaxMemoryUsage:   50 * 1024 * 1024,
		},
	}

	vm, err := bridge.CreateVM(config)
	require.NoError(t, err)
	return vm
}

func Test_Bridge_CreateAndDestroyVM(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	config := &VMConfig{
		SandboxEnabled: true,
		ResourceLimits: &ResourceLimits{
			MaxExecutionTime: 100 * time.Millisecond,
			MaxMemoryUsage:   10 * 1024 * 1024,
		},
	}

	// Act
	vm, err := bridge.CreateVM(config)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, vm)
	require.NotNil(t, vm.state)
	assert.NoError(t, bridge.DestroyVM(vm))
}

func Test_Bridge_CreateVM_SandboxDisablesFileSystemAndOS(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	config := &VMConfig{SandboxEnabled: true}

	// Act
	vm, err := bridge.CreateVM(config)
	require.NoError(t, err)
	defer bridge.DestroyVM(vm)

	// Assert
	assert.Equal(t, lua.LNil, vm.state.GetGlobal("os"))
	assert.Equal(t, lua.LNil, vm.state.GetGlobal("io"))
	assert.Equal(t, lua.LNil, vm.state.GetGlobal("require"))
}

func Test_Bridge_GoToLua_BasicTypes(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	vm := setupTestVM(t, bridge)
	defer bridge.DestroyVM(vm)

	testCases := []struct {
		name     string
		input    interface{}
		expected lua.LValueType
		value    interface{}
	}{
		{"string", "hello world", lua.LTString, "hello world"},
		{"int", 42, lua.LTNumber, float64(42)},
		{"float64", 3.14159, lua.LTNumber, 3.14159},
		{"bool_true", true, lua.LTBool, true},
		{"bool_false", false, lua.LTBool, false},
		{"empty_string", "", lua.LTString, ""},
		{"zero_int", 0, lua.LTNumber, float64(0)},
		{"negative_int", -100, lua.LTNumber, float64(-100)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			luaVal, err := bridge.GoToLua(vm, tc.input)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tc.expected, luaVal.Type())

			switch tc.expected {
			case lua.LTString:
				assert.Equal(t, tc.value, luaVal.String())
			case lua.LTNumber:
				assert.Equal(t, tc.value, float64(lua.LVAsNumber(luaVal)))
			case lua.LTBool:
				assert.Equal(t, tc.value, lua.LVAsBool(luaVal))
			}
		})
	}
}

func Test_Bridge_LuaToGo_BasicTypes(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	vm := setupTestVM(t, bridge)
	defer bridge.DestroyVM(vm)

	testCases := []struct {
		name      string
		luaValue  lua.LValue
		targetPtr interface{}
		expected  interface{}
	}{
		{"string", lua.LString("test string"), new(string), "test string"},
		{"int", lua.LNumber(123), new(int), 123},
		{"float64", lua.LNumber(2.71828), new(float64), 2.71828},
		{"bool_true", lua.LTrue, new(bool), true},
		{"bool_false", lua.LFalse, new(bool), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			err := bridge.LuaToGo(vm, tc.luaValue, tc.targetPtr)

			// Assert
			require.NoError(t, err)
			switch ptr := tc.targetPtr.(type) {
			case *string:
				assert.Equal(t, tc.expected, *ptr)
			case *int:
				assert.Equal(t, tc.expected, *ptr)
			case *float64:
				assert.Equal(t, tc.expected, *ptr)
			case *bool:
				assert.Equal(t, tc.expected, *ptr)
			}
		})
	}
}

func Test_Bridge_GoToLua_SliceBecomesOneIndexedTable(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	vm := setupTestVM(t, bridge)
	defer bridge.DestroyVM(vm)
	testSlice := []string{"apple", "banana", "cherry"}

	// Act
	luaVal, err := bridge.GoToLua(vm, testSlice)

	// Assert
	require.NoError(t, err)
	require.Equal(t, lua.LTTable, luaVal.Type())
	luaTable := luaVal.(*lua.LTable)
	assert.Equal(t, "apple", luaTable.RawGetInt(1).String())
	assert.Equal(t, "banana", luaTable.RawGetInt(2).String())
	assert.Equal(t, "cherry", luaTable.RawGetInt(3).String())
	assert.Equal(t, 3, luaTable.Len())
}

func Test_Bridge_LoadAndExecuteScript_MarksLoaded(t *testing.T) {
	// Arrange
	bridge := NewBridge()
	vm := setupTestVM(t, bridge)
	defer bridge.DestroyVM(vm)

	// Act
	scr, err := bridge.LoadScript(vm, "move.lua")
	require.NoError(t, err)
	execErr := bridge.ExecuteScript(vm, scr)

	// Assert
	require.NoError(t, execErr)
	assert.True(t, scr.loaded)
}
