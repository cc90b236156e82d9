package payrun

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func derived[T engine.Derivable](obj T) regulation.Derived[T] {
	return regulation.Derived[T]{Object: obj, Chain: []T{obj}}
}

var march2024 = engine.DatePeriod{Start: date(2024, 3, 1), End: date(2024, 4, 1)}

// bareRuntime runs no scripts; objects without expressions never invoke it.
func bareRuntime() *facade.Runtime {
	return facade.NewRuntime(nil, &facade.Context{Logger: zerolog.Nop()})
}

func newHost(t *testing.T) *scripting.Host {
	t.Helper()
	ctx := context.Background()
	h, err := scripting.NewHost(ctx, scripting.DefaultOptions(), zerolog.Nop(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(ctx) })
	return h
}

func testJob() *engine.PayrunJob {
	return &engine.PayrunJob{
		ID:           1,
		TenantID:     1,
		PayrollID:    1,
		DivisionID:   1,
		Name:         "March",
		JobStatus:    engine.JobStatusProcess,
		RetroPayMode: engine.RetroPayModeNone,
		Cycle:        engine.DatePeriod{Start: date(2024, 1, 1), End: date(2025, 1, 1)},
		Period:       march2024,
	}
}

func scriptRuntime(h *scripting.Host, d *regulation.Derivation) *facade.Runtime {
	if d == nil {
		d = regulation.NewDerivation(nil, regulation.Options{})
	}
	return facade.NewRuntime(h, &facade.Context{
		Tenant:         &engine.Tenant{ID: 1, Identifier: "acme"},
		Employee:       &engine.Employee{ID: 7, TenantID: 1, Identifier: "E7"},
		Job:            testJob(),
		Period:         march2024,
		EvaluationDate: date(2024, 3, 15),
		RegulationDate: date(2024, 3, 15),
		Culture:        language.MustParse("de-CH"),
		Derivation:     d,
		RuntimeValues:  facade.NewRuntimeValues(),
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return date(2024, 3, 15) },
	})
}
