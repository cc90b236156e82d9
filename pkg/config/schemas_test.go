package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistry_Builtins(t *testing.T) {
	sr := NewSchemaRegistry()
	for name := range builtinDefinitions {
		schema, ok := sr.GetSchema(name)
		require.True(t, ok, name)
		assert.True(t, schema.Exists(), name)
	}
	assert.Equal(t, len(builtinDefinitions), len(sr.ListSchemas()))
}

func TestSchemaRegistry_ValidateCalendar(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]any{"name": "Monthly", "periodTimeUnit": "CalendarMonth", "firstMonthOfYear": 4}
	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "calendar", valid))

	tests := []struct {
		name string
		data map[string]any
	}{
		{"unknown unit", map[string]any{"name": "Monthly", "periodTimeUnit": "Fortnight"}},
		{"missing unit", map[string]any{"name": "Monthly"}},
		{"month range", map[string]any{"name": "Monthly", "periodTimeUnit": "Week", "firstMonthOfYear": 13}},
		{"closed", map[string]any{"name": "Monthly", "periodTimeUnit": "Week", "holidays": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, sr.ValidateAgainstSchema(ctx, "calendar", tt.data))
		})
	}
}

func TestSchemaRegistry_Expression(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "expression", "return 1"))
	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "expression", map[string]any{"language": "cel", "source": "1 + 1"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "expression", map[string]any{"language": "lua", "source": "1"}))
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	err := sr.RegisterSchema("rounding", `
#Schema: {
	decimals: int & >=0 & <=6
	mode:     "Up" | "Down" | "Even"
}
`)
	require.NoError(t, err)
	assert.Contains(t, sr.ListSchemas(), "rounding")

	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "rounding", map[string]any{"decimals": 2, "mode": "Even"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "rounding", map[string]any{"decimals": 9, "mode": "Even"}))

	assert.Error(t, sr.RegisterSchema("broken", "#Schema: {"))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "missing", map[string]any{}))
}
