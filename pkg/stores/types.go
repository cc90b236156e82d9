package stores

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Store is the persistence surface of the payroll runtime. Both the SQLite
// and the memory store implement it.
type Store interface {
	engine.TenantRepository
	engine.DivisionRepository
	engine.EmployeeRepository
	engine.CalendarRepository
	engine.RegulationRepository
	engine.PayrollRepository
	engine.CaseValueRepository
	engine.PayrunJobRepository
	engine.PayrollResultRepository
	engine.LogSink
	engine.TaskSink
	Writer

	// Init opens the store.
	Init(ctx context.Context) error

	// Migrate brings the schema to the latest version.
	Migrate(ctx context.Context) error

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Writer creates the master data a payrun reads. IDs are assigned by the
// store when zero and written back to the argument.
type Writer interface {
	CreateTenant(ctx context.Context, tenant *engine.Tenant) error
	CreateDivision(ctx context.Context, division *engine.Division) error
	CreateEmployee(ctx context.Context, employee *engine.Employee) error
	CreateCalendar(ctx context.Context, calendar *engine.Calendar) error
	CreateRegulation(ctx context.Context, regulation *engine.Regulation) error
	AddRegulationObjects(ctx context.Context, regulationID int64, objects *engine.RegulationObjects) error
	CreateRegulationShare(ctx context.Context, share *engine.RegulationShare) error
	CreatePayroll(ctx context.Context, payroll *engine.Payroll) error
	CreatePayrun(ctx context.Context, payrun *engine.Payrun) error
}

// matchCaseValue applies the tier scope of a case value query.
func matchCaseValue(v *engine.CaseValue, q engine.CaseValueQuery) bool {
	if v.Tier != q.Tier || v.TenantID != q.TenantID {
		return false
	}
	switch q.Tier {
	case engine.TierEmployee:
		if v.EmployeeID != q.EmployeeID {
			return false
		}
	case engine.TierCompany:
		if v.DivisionID != q.DivisionID {
			return false
		}
	}
	if q.CaseFieldName != "" && v.CaseFieldName != q.CaseFieldName {
		return false
	}
	if q.CaseSlot != nil && v.CaseSlot != *q.CaseSlot {
		return false
	}
	return true
}

// matchResult applies the result query filters a result row and its job
// must satisfy.
func matchResult(base *engine.ResultBase, employeeID int64, job *engine.PayrunJob, q engine.ResultQuery) bool {
	if job == nil || job.TenantID != q.TenantID || employeeID != q.EmployeeID {
		return false
	}
	if q.DivisionID != 0 && job.DivisionID != q.DivisionID {
		return false
	}
	if q.PayrollID != 0 && job.PayrollID != q.PayrollID {
		return false
	}
	if job.Forecast != "" && job.Forecast != q.Forecast {
		return false
	}
	if len(q.JobStatuses) > 0 && !containsStatus(q.JobStatuses, job.JobStatus) {
		return false
	}
	if !q.Period.Overlaps(engine.DatePeriod{Start: base.Start, End: base.End}) {
		return false
	}
	if len(q.Tags) > 0 && !anyTag(base.Tags, q.Tags) {
		return false
	}
	return true
}

func containsStatus(statuses []engine.JobStatus, status engine.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func anyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func matchNumber(q engine.ResultQuery, number decimal.Decimal) bool {
	if len(q.WageTypeNumbers) == 0 {
		return true
	}
	for _, n := range q.WageTypeNumbers {
		if n.Equal(number) {
			return true
		}
	}
	return false
}

func matchName(q engine.ResultQuery, name string) bool {
	if len(q.CollectorNames) == 0 {
		return true
	}
	for _, n := range q.CollectorNames {
		if n == name {
			return true
		}
	}
	return false
}

// page orders and slices rows by the list options.
func page[T any](rows []T, q engine.Query, id func(T) int64, name func(T) string) []T {
	switch strings.ToLower(q.OrderBy) {
	case "name":
		sort.SliceStable(rows, func(i, j int) bool { return name(rows[i]) < name(rows[j]) })
	default:
		sort.SliceStable(rows, func(i, j int) bool { return id(rows[i]) < id(rows[j]) })
	}
	if q.Skip > 0 {
		if q.Skip >= len(rows) {
			return nil
		}
		rows = rows[q.Skip:]
	}
	if q.Top > 0 && q.Top < len(rows) {
		rows = rows[:q.Top]
	}
	return rows
}
