package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

// Query carries the list options of repository calls.
type Query struct {
	// Status filters on the object status; empty selects all.
	Status ObjectStatus

	// OrderBy names the sort column ("id", "created", "name"); "id" when empty.
	OrderBy string

	// Top limits the number of rows; zero is unlimited.
	Top int

	// Skip drops the first rows.
	Skip int
}

// TenantRepository reads tenants.
type TenantRepository interface {
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	GetTenantByIdentifier(ctx context.Context, identifier string) (*Tenant, error)
}

// DivisionRepository reads divisions.
type DivisionRepository interface {
	GetDivision(ctx context.Context, tenantID, id int64) (*Division, error)
	GetDivisionByName(ctx context.Context, tenantID int64, name string) (*Division, error)
}

// EmployeeRepository reads employees.
type EmployeeRepository interface {
	GetEmployee(ctx context.Context, tenantID, id int64) (*Employee, error)
	ListEmployees(ctx context.Context, tenantID int64, query Query) ([]*Employee, error)
}

// CalendarRepository reads calendars by name.
type CalendarRepository interface {
	GetCalendarByName(ctx context.Context, tenantID int64, name string) (*Calendar, error)
}

// RegulationRepository reads regulations, their objects and shares.
type RegulationRepository interface {
	GetRegulation(ctx context.Context, tenantID, id int64) (*Regulation, error)
	GetRegulationByName(ctx context.Context, tenantID int64, name string) (*Regulation, error)

	// GetRegulationObjects returns every version of every object of a regulation.
	GetRegulationObjects(ctx context.Context, tenantID, regulationID int64) (*RegulationObjects, error)

	// ListRegulationShares returns the grants of a shared regulation.
	ListRegulationShares(ctx context.Context, providerTenantID, providerRegulationID int64) ([]*RegulationShare, error)
}

// PayrollRepository reads payrolls and their payruns.
type PayrollRepository interface {
	GetPayroll(ctx context.Context, tenantID, id int64) (*Payroll, error)
	GetPayrollByName(ctx context.Context, tenantID int64, name string) (*Payroll, error)
	GetPayrunByName(ctx context.Context, tenantID int64, name string) (*Payrun, error)
}

// CaseValueRepository reads and appends case values.
type CaseValueRepository interface {
	ListCaseValues(ctx context.Context, query CaseValueQuery) ([]*CaseValue, error)
	AddCaseValue(ctx context.Context, value *CaseValue) error
}

// PayrunJobRepository persists payrun jobs.
type PayrunJobRepository interface {
	CreatePayrunJob(ctx context.Context, job *PayrunJob) error
	GetPayrunJob(ctx context.Context, tenantID, id int64) (*PayrunJob, error)
	UpdatePayrunJobStatus(ctx context.Context, tenantID, id int64, status JobStatus) error
	ListPayrunJobs(ctx context.Context, tenantID int64, query Query) ([]*PayrunJob, error)
}

// ResultProvider answers raw result queries. Consolidation is done by the caller.
type ResultProvider interface {
	ListWageTypeResults(ctx context.Context, query ResultQuery) ([]*WageTypeResult, error)
	ListWageTypeCustomResults(ctx context.Context, query ResultQuery) ([]*WageTypeCustomResult, error)
	ListCollectorResults(ctx context.Context, query ResultQuery) ([]*CollectorResult, error)
	ListCollectorCustomResults(ctx context.Context, query ResultQuery) ([]*CollectorCustomResult, error)
}

// PayrollResultRepository persists the results of a job.
type PayrollResultRepository interface {
	ResultProvider
	// SavePayrollResults stores the results of one job atomically: either
	// every result is stored or none.
	SavePayrollResults(ctx context.Context, results ...*PayrollResult) error
}

// LookupProvider resolves lookup values honoring derivation.
type LookupProvider interface {
	LookupValue(ctx context.Context, name, key string, culture language.Tag) (string, bool, error)
	RangeLookupValue(ctx context.Context, name string, rangeValue decimal.Decimal, culture language.Tag) (string, bool, error)
}

// WebhookDispatcher delivers webhook messages.
type WebhookDispatcher interface {
	// Send queues a tracked message and returns without waiting for delivery.
	Send(ctx context.Context, message WebhookMessage) error

	// Invoke delivers an untracked message and returns the response body.
	Invoke(ctx context.Context, message WebhookMessage) (string, error)
}

// LogSink stores script log entries.
type LogSink interface {
	AddLog(ctx context.Context, entry *LogEntry) error
}

// TaskSink stores script tasks.
type TaskSink interface {
	AddTask(ctx context.Context, task *Task) error
}

// ShareRequest asks whether a consumer may use a regulation of another tenant.
type ShareRequest struct {
	Regulation         *Regulation
	Shares             []*RegulationShare
	ConsumerTenantID   int64
	ConsumerDivisionID int64
	RegulationDate     time.Time
}

// ShareAuthorizer decides cross tenant regulation access.
type ShareAuthorizer interface {
	AuthorizeShare(ctx context.Context, request ShareRequest) (bool, error)
}
