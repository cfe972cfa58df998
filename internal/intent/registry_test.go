package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFastExtractsArgs(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterDefaults())

	action := r.ClassifyFast("add milk to shopping list")
	require.NotNil(t, action)
	assert.Equal(t, "list-write", action.Handler)
	assert.Equal(t, "milk", action.Args["item"])
	assert.Equal(t, "shopping", action.Args["list"])
}

func TestClassifyFastIsDeterministic(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterDefaults())

	first := r.ClassifyFast("remember that the car is parked on level 2")
	second := r.ClassifyFast("remember that the car is parked on level 2")
	require.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, "memory-write", first.Handler)
	assert.Equal(t, "the car is parked on level 2", first.Args["note"])
}

func TestClassifyFastMiss(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterDefaults())

	assert.Nil(t, r.ClassifyFast("what is the meaning of life"))
	assert.Nil(t, r.ClassifyFast(""))
}

func TestClassifyFastCaseAndPunctuation(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterDefaults())

	action := r.ClassifyFast("Add Eggs to Shopping list!")
	require.NotNil(t, action)
	assert.Equal(t, "eggs", action.Args["item"])
}

func TestRegisterRejectsOverlap(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("add {item} to {list} list", "list-write"))

	// "add milk to my shopping list" would match both patterns.
	err := r.Register("add {item} to my {list} list", "list-write")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsIdenticalPattern(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("remember that {note}", "memory-write"))
	assert.Error(t, r.Register("remember that {fact}", "memory-write"))
}

func TestRegisterAllowsDisjointPatterns(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("add {item} to {list} list", "list-write"))
	require.NoError(t, r.Register("remove {item} from {list} list", "list-write"))
	require.NoError(t, r.Register("turn {state} the {device}", "device-control"))
	assert.Equal(t, 3, r.Len())
}

func TestParseTemplateRejectsBadPlaceholder(t *testing.T) {
	_, err := ParseTemplate("add {Bad Name} to list", "list-write")
	assert.Error(t, err)

	_, err = ParseTemplate("", "list-write")
	assert.Error(t, err)
}

func TestTurnDeviceTemplate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterDefaults())

	action := r.ClassifyFast("turn off the kitchen lights")
	require.NotNil(t, action)
	assert.Equal(t, "device-control", action.Handler)
	assert.Equal(t, "off", action.Args["state"])
	assert.Equal(t, "kitchen lights", action.Args["device"])
}
