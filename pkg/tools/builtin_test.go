package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func TestRegisterBuiltins(t *testing.T) {
	r := builtinRegistry(t)

	assert.True(t, r.Has("get_server_time"))
	assert.True(t, r.Has("calculate"))
}

func TestGetServerTime(t *testing.T) {
	r := builtinRegistry(t)

	out, err := r.Invoke(context.Background(), "get_server_time", nil)
	require.NoError(t, err)

	parsed, err := time.Parse(time.RFC3339, out)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestCalculate(t *testing.T) {
	r := builtinRegistry(t)

	cases := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"add", map[string]interface{}{"operation": "add", "a": 2.0, "b": 2.0}, "4"},
		{"subtract", map[string]interface{}{"operation": "subtract", "a": 10.0, "b": 4.0}, "6"},
		{"multiply", map[string]interface{}{"operation": "multiply", "a": 3.0, "b": 1.5}, "4.5"},
		{"divide", map[string]interface{}{"operation": "divide", "a": 9.0, "b": 2.0}, "4.5"},
		{"divide by zero", map[string]interface{}{"operation": "divide", "a": 1.0, "b": 0.0}, "Error: Division by zero"},
		{"unknown operation", map[string]interface{}{"operation": "modulo", "a": 1.0, "b": 2.0}, "Error: Unknown operation 'modulo'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := r.Invoke(context.Background(), "calculate", tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestCalculateValidatesArguments(t *testing.T) {
	r := builtinRegistry(t)

	_, err := r.Invoke(context.Background(), "calculate", map[string]interface{}{
		"operation": "add",
		"a":         "two",
		"b":         2.0,
	})
	assert.ErrorContains(t, err, "argument validation failed")
}

func TestCalculateMissingArguments(t *testing.T) {
	r := builtinRegistry(t)

	_, err := r.Invoke(context.Background(), "calculate", map[string]interface{}{"operation": "add"})
	assert.ErrorContains(t, err, "argument validation failed")
}
