package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnDescriptor(handlerCalled *bool) Descriptor {
	return Descriptor{
		Name: "spawn",
		Parameters: []Parameter{
			{Name: "x", Kind: ScalarInt64, Required: true},
			{Name: "y", Kind: ScalarInt64, Required: true},
		},
		Handler: func(matchID, playerID string, params map[string]Scalar) error {
			*handlerCalled = true
			return nil
		},
	}
}

func Test_Registry_Register_RejectsDuplicateNameAtomically(t *testing.T) {
	// Arrange
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register([]Descriptor{spawnDescriptor(&called)}))

	// Act
	err := reg.Register([]Descriptor{spawnDescriptor(&called), {Name: "spawn"}})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNameConflict)
}

func Test_Registry_Validate_RejectsMissingRequiredParam(t *testing.T) {
	// Arrange
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register([]Descriptor{spawnDescriptor(&called)}))

	// Act
	_, err := reg.Validate("spawn", map[string]Scalar{"x": Int64Value(1)})

	// Assert
	assert.Error(t, err)
}

func Test_Registry_Validate_RejectsParamKindMismatch(t *testing.T) {
	// Arrange
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register([]Descriptor{spawnDescriptor(&called)}))

	// Act
	_, err := reg.Validate("spawn", map[string]Scalar{
		"x": StringValue("nope"),
		"y": Int64Value(1),
	})

	// Assert
	assert.Error(t, err)
}

func Test_Registry_Validate_AcceptsWellFormedCommand(t *testing.T) {
	// Arrange
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register([]Descriptor{spawnDescriptor(&called)}))

	// Act
	d, err := reg.Validate("spawn", map[string]Scalar{"x": Int64Value(1), "y": Int64Value(2)})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "spawn", d.Name)
}

func Test_Registry_Unregister_RemovesCommandByName(t *testing.T) {
	// Arrange
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register([]Descriptor{spawnDescriptor(&called)}))

	// Act
	reg.Unregister([]string{"spawn"})

	// Assert
	_, ok := reg.Lookup("spawn")
	assert.False(t, ok)
}
