package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":     map[string]any{"type": "integer"},
			"units": map[string]any{"type": "string", "enum": []any{"metric", "imperial"}},
		},
		"required": []any{"x"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"x": 5}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"x": 5.0, "units": "metric", "extra": true}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)
	assert.Equal(t, "required field is missing", vErr.Message)

	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")

	err = ValidateParameters(map[string]any{"x": 1.5}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": 1, "units": "kelvin"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "units", vErr.Field)
	assert.Contains(t, vErr.Error(), "must be one of")
}

func TestValidateParameters_NumericEnum(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{"days": map[string]any{"type": "integer", "enum": []any{1.0, 3.0, 7.0}}},
	}
	assert.NoError(t, ValidateParameters(map[string]any{"days": 3}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"days": 2}, schema))
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, RequiredFields(map[string]any{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, RequiredFields(map[string]any{"required": []any{"a", "b", 3}}))
	assert.Nil(t, RequiredFields(map[string]any{}))
}
