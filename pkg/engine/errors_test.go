package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Classification(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name   string
		err    error
		script bool
		domain bool
		contr  bool
		infra  bool
	}{
		{"script", NewScriptError(FunctionWageTypeValue, "1000", cause), true, false, false, false},
		{"domain", NewDomainError("restart limit", nil), false, true, false, false},
		{"contract", NewContractError("bad date", nil), false, false, true, false},
		{"infrastructure", NewInfrastructureError("store down", cause), false, false, false, true},
		{"wrapped domain", fmt.Errorf("failed to evaluate: %w", NewNotFoundError("calendar", "x")), false, true, false, false},
		{"plain", cause, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.script, IsScriptFailure(tt.err))
			assert.Equal(t, tt.domain, IsDomainViolation(tt.err))
			assert.Equal(t, tt.contr, IsContractViolation(tt.err))
			assert.Equal(t, tt.infra, IsInfrastructure(tt.err))
		})
	}
}

func TestEngineError_Message(t *testing.T) {
	err := NewScriptError(FunctionCollectorApply, "Gross", errors.New("division by zero"))
	assert.Equal(t, "[script] script failed (function=CollectorApply, object=Gross): division by zero", err.Error())
	assert.Equal(t, ErrCodeScriptExecution, CodeOf(err))

	err = NewContractError("retro date must precede the period", nil).WithCode(ErrCodeOutOfRange)
	assert.Equal(t, "[contract] retro date must precede the period", err.Error())
	assert.Equal(t, ErrCodeOutOfRange, CodeOf(fmt.Errorf("wrapped: %w", err)))
}

func TestEngineError_Is(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("too many restarts", nil).WithCode(ErrCodeRestartLimit))

	assert.True(t, errors.Is(err, &EngineError{Class: ErrorClassDomain, Code: ErrCodeRestartLimit}))
	assert.False(t, errors.Is(err, &EngineError{Class: ErrorClassDomain, Code: ErrCodePeriodLimit}))
	assert.True(t, IsNotFound(NewNotFoundError("employee", 3)))
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewInfrastructureError("store failed", cause).WithDetail("table", "case_values")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "case_values", err.Details["table"])
}
