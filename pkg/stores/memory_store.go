package stores

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
)

// MemoryStore keeps everything in process. It backs tests and the one-shot
// CLI runs over regulation bundles.
type MemoryStore struct {
	mu sync.RWMutex

	nextID int64
	now    func() time.Time

	tenants     map[int64]*engine.Tenant
	divisions   map[int64]*engine.Division
	employees   map[int64]*engine.Employee
	calendars   map[int64]*engine.Calendar
	regulations map[int64]*engine.Regulation
	objects     map[int64]*engine.RegulationObjects
	shares      []*engine.RegulationShare
	payrolls    map[int64]*engine.Payroll
	payruns     map[int64]*engine.Payrun
	caseValues  []*engine.CaseValue
	jobs        map[int64]*engine.PayrunJob
	results     []*engine.PayrollResult
	logs        []*engine.LogEntry
	tasks       []*engine.Task
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		tenants:     make(map[int64]*engine.Tenant),
		divisions:   make(map[int64]*engine.Division),
		employees:   make(map[int64]*engine.Employee),
		calendars:   make(map[int64]*engine.Calendar),
		regulations: make(map[int64]*engine.Regulation),
		objects:     make(map[int64]*engine.RegulationObjects),
		payrolls:    make(map[int64]*engine.Payroll),
		payruns:     make(map[int64]*engine.Payrun),
		jobs:        make(map[int64]*engine.PayrunJob),
	}
}

// Init is a no-op.
func (s *MemoryStore) Init(context.Context) error { return nil }

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) assign(id *int64) {
	if *id == 0 {
		s.nextID++
		*id = s.nextID
	} else if *id > s.nextID {
		s.nextID = *id
	}
}

func (s *MemoryStore) stamp(t *time.Time) {
	if t.IsZero() {
		*t = s.now()
	}
}

// CreateTenant adds a tenant.
func (s *MemoryStore) CreateTenant(_ context.Context, tenant *engine.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Identifier == tenant.Identifier {
			return engine.NewContractError("tenant "+tenant.Identifier+" already exists", nil).
				WithCode(engine.ErrCodeConflict)
		}
	}
	s.assign(&tenant.ID)
	s.stamp(&tenant.Created)
	c := *tenant
	s.tenants[c.ID] = &c
	return nil
}

// GetTenant returns a tenant by ID.
func (s *MemoryStore) GetTenant(_ context.Context, id int64) (*engine.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, engine.NewNotFoundError("tenant", id)
	}
	c := *t
	return &c, nil
}

// GetTenantByIdentifier returns a tenant by its identifier.
func (s *MemoryStore) GetTenantByIdentifier(_ context.Context, identifier string) (*engine.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Identifier == identifier {
			c := *t
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("tenant", identifier)
}

// CreateDivision adds a division.
func (s *MemoryStore) CreateDivision(_ context.Context, division *engine.Division) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&division.ID)
	s.stamp(&division.Created)
	c := *division
	s.divisions[c.ID] = &c
	return nil
}

// GetDivision returns a division by ID.
func (s *MemoryStore) GetDivision(_ context.Context, tenantID, id int64) (*engine.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.divisions[id]
	if !ok || d.TenantID != tenantID {
		return nil, engine.NewNotFoundError("division", id)
	}
	c := *d
	return &c, nil
}

// GetDivisionByName returns a division by name.
func (s *MemoryStore) GetDivisionByName(_ context.Context, tenantID int64, name string) (*engine.Division, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.divisions {
		if d.TenantID == tenantID && d.Name == name {
			c := *d
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("division", name)
}

// CreateEmployee adds an employee.
func (s *MemoryStore) CreateEmployee(_ context.Context, employee *engine.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&employee.ID)
	s.stamp(&employee.Created)
	c := *employee
	s.employees[c.ID] = &c
	return nil
}

// GetEmployee returns an employee by ID.
func (s *MemoryStore) GetEmployee(_ context.Context, tenantID, id int64) (*engine.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok || e.TenantID != tenantID {
		return nil, engine.NewNotFoundError("employee", id)
	}
	c := *e
	return &c, nil
}

// ListEmployees lists the employees of a tenant.
func (s *MemoryStore) ListEmployees(_ context.Context, tenantID int64, query engine.Query) ([]*engine.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.Employee
	for _, e := range s.employees {
		if e.TenantID != tenantID {
			continue
		}
		if query.Status != "" && e.Status != query.Status && !(query.Status == engine.StatusActive && e.Status.IsActive()) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return page(out, query,
		func(e *engine.Employee) int64 { return e.ID },
		func(e *engine.Employee) string { return e.Identifier }), nil
}

// CreateCalendar adds a calendar.
func (s *MemoryStore) CreateCalendar(_ context.Context, calendar *engine.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&calendar.ID)
	c := *calendar
	s.calendars[c.ID] = &c
	return nil
}

// GetCalendarByName returns a calendar by name.
func (s *MemoryStore) GetCalendarByName(_ context.Context, tenantID int64, name string) (*engine.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cal := range s.calendars {
		if cal.TenantID == tenantID && cal.Name == name {
			c := *cal
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("calendar", name)
}

// CreateRegulation adds a regulation.
func (s *MemoryStore) CreateRegulation(_ context.Context, regulation *engine.Regulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regulations {
		if r.TenantID == regulation.TenantID && r.Name == regulation.Name {
			return engine.NewContractError("regulation "+regulation.Name+" already exists", nil).
				WithCode(engine.ErrCodeConflict)
		}
	}
	s.assign(&regulation.ID)
	s.stamp(&regulation.Created)
	c := *regulation
	s.regulations[c.ID] = &c
	s.objects[c.ID] = &engine.RegulationObjects{}
	return nil
}

// GetRegulation returns a regulation by ID.
func (s *MemoryStore) GetRegulation(_ context.Context, tenantID, id int64) (*engine.Regulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regulations[id]
	if !ok || r.TenantID != tenantID {
		return nil, engine.NewNotFoundError("regulation", id)
	}
	c := *r
	return &c, nil
}

// GetRegulationByName returns a regulation by name.
func (s *MemoryStore) GetRegulationByName(_ context.Context, tenantID int64, name string) (*engine.Regulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.regulations {
		if r.TenantID == tenantID && r.Name == name {
			c := *r
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("regulation", name)
}

// AddRegulationObjects appends object versions to a regulation. Each object
// gets an ID, the regulation ID and a creation time when unset.
func (s *MemoryStore) AddRegulationObjects(_ context.Context, regulationID int64, objects *engine.RegulationObjects) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.objects[regulationID]
	if !ok {
		return engine.NewNotFoundError("regulation", regulationID)
	}
	objects.Each(func(_ engine.ObjectKind, obj engine.Derivable) {
		meta := obj.Meta()
		s.assign(&meta.ID)
		s.stamp(&meta.Created)
		meta.RegulationID = regulationID
	})
	existing.Cases = append(existing.Cases, objects.Cases...)
	existing.CaseFields = append(existing.CaseFields, objects.CaseFields...)
	existing.CaseRelations = append(existing.CaseRelations, objects.CaseRelations...)
	existing.Collectors = append(existing.Collectors, objects.Collectors...)
	existing.WageTypes = append(existing.WageTypes, objects.WageTypes...)
	existing.Lookups = append(existing.Lookups, objects.Lookups...)
	existing.Reports = append(existing.Reports, objects.Reports...)
	existing.Scripts = append(existing.Scripts, objects.Scripts...)
	return nil
}

// GetRegulationObjects returns every object version of a regulation.
func (s *MemoryStore) GetRegulationObjects(_ context.Context, tenantID, regulationID int64) (*engine.RegulationObjects, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regulations[regulationID]
	if !ok || r.TenantID != tenantID {
		return nil, engine.NewNotFoundError("regulation", regulationID)
	}
	o := *s.objects[regulationID]
	return &o, nil
}

// CreateRegulationShare adds a share grant.
func (s *MemoryStore) CreateRegulationShare(_ context.Context, share *engine.RegulationShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&share.ID)
	s.stamp(&share.Created)
	c := *share
	s.shares = append(s.shares, &c)
	return nil
}

// ListRegulationShares returns the grants of a shared regulation.
func (s *MemoryStore) ListRegulationShares(_ context.Context, providerTenantID, providerRegulationID int64) ([]*engine.RegulationShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.RegulationShare
	for _, sh := range s.shares {
		if sh.ProviderTenantID == providerTenantID && sh.ProviderRegulationID == providerRegulationID {
			c := *sh
			out = append(out, &c)
		}
	}
	return out, nil
}

// CreatePayroll adds a payroll.
func (s *MemoryStore) CreatePayroll(_ context.Context, payroll *engine.Payroll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&payroll.ID)
	s.stamp(&payroll.Created)
	c := *payroll
	s.payrolls[c.ID] = &c
	return nil
}

// GetPayroll returns a payroll by ID.
func (s *MemoryStore) GetPayroll(_ context.Context, tenantID, id int64) (*engine.Payroll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payrolls[id]
	if !ok || p.TenantID != tenantID {
		return nil, engine.NewNotFoundError("payroll", id)
	}
	c := *p
	return &c, nil
}

// GetPayrollByName returns a payroll by name.
func (s *MemoryStore) GetPayrollByName(_ context.Context, tenantID int64, name string) (*engine.Payroll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payrolls {
		if p.TenantID == tenantID && p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("payroll", name)
}

// CreatePayrun adds a payrun.
func (s *MemoryStore) CreatePayrun(_ context.Context, payrun *engine.Payrun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&payrun.ID)
	s.stamp(&payrun.Created)
	c := *payrun
	s.payruns[c.ID] = &c
	return nil
}

// GetPayrunByName returns a payrun by name.
func (s *MemoryStore) GetPayrunByName(_ context.Context, tenantID int64, name string) (*engine.Payrun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payruns {
		if p.TenantID == tenantID && p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, engine.NewNotFoundError("payrun", name)
}

// AddCaseValue appends a case value.
func (s *MemoryStore) AddCaseValue(_ context.Context, value *engine.CaseValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&value.ID)
	s.stamp(&value.Created)
	c := *value
	s.caseValues = append(s.caseValues, &c)
	return nil
}

// ListCaseValues returns the case values of one tier in insertion order.
func (s *MemoryStore) ListCaseValues(_ context.Context, query engine.CaseValueQuery) ([]*engine.CaseValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.CaseValue
	for _, v := range s.caseValues {
		if matchCaseValue(v, query) {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}

// CreatePayrunJob adds a payrun job.
func (s *MemoryStore) CreatePayrunJob(_ context.Context, job *engine.PayrunJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assign(&job.ID)
	s.stamp(&job.Created)
	c := *job
	s.jobs[c.ID] = &c
	return nil
}

// GetPayrunJob returns a payrun job by ID.
func (s *MemoryStore) GetPayrunJob(_ context.Context, tenantID, id int64) (*engine.PayrunJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, engine.NewNotFoundError("payrun job", id)
	}
	c := *j
	return &c, nil
}

// UpdatePayrunJobStatus sets the status of a payrun job.
func (s *MemoryStore) UpdatePayrunJobStatus(_ context.Context, tenantID, id int64, status engine.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return engine.NewNotFoundError("payrun job", id)
	}
	j.JobStatus = status
	return nil
}

// ListPayrunJobs lists the payrun jobs of a tenant.
func (s *MemoryStore) ListPayrunJobs(_ context.Context, tenantID int64, query engine.Query) ([]*engine.PayrunJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.PayrunJob
	for _, j := range s.jobs {
		if j.TenantID == tenantID {
			c := *j
			out = append(out, &c)
		}
	}
	return page(out, query,
		func(j *engine.PayrunJob) int64 { return j.ID },
		func(j *engine.PayrunJob) string { return j.Name }), nil
}

// SavePayrollResults stores the results of employees. Result rows get IDs
// and the job ID of their payroll result.
func (s *MemoryStore) SavePayrollResults(_ context.Context, results ...*engine.PayrollResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, result := range results {
		s.saveResult(result)
	}
	return nil
}

func (s *MemoryStore) saveResult(result *engine.PayrollResult) {
	s.assign(&result.ID)
	s.stamp(&result.Created)
	for _, r := range result.CollectorResults {
		s.assignResult(&r.ResultBase, result)
	}
	for _, r := range result.CollectorCustomResult {
		s.assignResult(&r.ResultBase, result)
	}
	for _, r := range result.WageTypeResults {
		s.assignResult(&r.ResultBase, result)
	}
	for _, r := range result.WageTypeCustomResults {
		s.assignResult(&r.ResultBase, result)
	}
	for _, r := range result.PayrunResults {
		s.assign(&r.ID)
		r.JobID = result.PayrunJobID
	}
	s.results = append(s.results, result)
}

func (s *MemoryStore) assignResult(base *engine.ResultBase, result *engine.PayrollResult) {
	s.assign(&base.ID)
	base.JobID = result.PayrunJobID
	if base.Created.IsZero() {
		base.Created = result.Created
	}
}

// PayrollResults returns the stored payroll results of a job.
func (s *MemoryStore) PayrollResults(jobID int64) []*engine.PayrollResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.PayrollResult
	for _, r := range s.results {
		if r.PayrunJobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// ListWageTypeResults implements engine.ResultProvider.
func (s *MemoryStore) ListWageTypeResults(_ context.Context, query engine.ResultQuery) ([]*engine.WageTypeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.WageTypeResult
	for _, pr := range s.results {
		job := s.jobs[pr.PayrunJobID]
		for _, r := range pr.WageTypeResults {
			if matchNumber(query, r.WageTypeNumber) && matchResult(&r.ResultBase, pr.EmployeeID, job, query) {
				c := *r
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

// ListWageTypeCustomResults implements engine.ResultProvider.
func (s *MemoryStore) ListWageTypeCustomResults(_ context.Context, query engine.ResultQuery) ([]*engine.WageTypeCustomResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.WageTypeCustomResult
	for _, pr := range s.results {
		job := s.jobs[pr.PayrunJobID]
		for _, r := range pr.WageTypeCustomResults {
			if matchNumber(query, r.WageTypeNumber) && matchResult(&r.ResultBase, pr.EmployeeID, job, query) {
				c := *r
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

// ListCollectorResults implements engine.ResultProvider.
func (s *MemoryStore) ListCollectorResults(_ context.Context, query engine.ResultQuery) ([]*engine.CollectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.CollectorResult
	for _, pr := range s.results {
		job := s.jobs[pr.PayrunJobID]
		for _, r := range pr.CollectorResults {
			if matchName(query, r.CollectorName) && matchResult(&r.ResultBase, pr.EmployeeID, job, query) {
				c := *r
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

// ListCollectorCustomResults implements engine.ResultProvider.
func (s *MemoryStore) ListCollectorCustomResults(_ context.Context, query engine.ResultQuery) ([]*engine.CollectorCustomResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.CollectorCustomResult
	for _, pr := range s.results {
		job := s.jobs[pr.PayrunJobID]
		for _, r := range pr.CollectorCustomResult {
			if matchName(query, r.CollectorName) && matchResult(&r.ResultBase, pr.EmployeeID, job, query) {
				c := *r
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

// AddLog appends a script log entry.
func (s *MemoryStore) AddLog(_ context.Context, entry *engine.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.logs = append(s.logs, &c)
	return nil
}

// Logs returns the script log entries.
func (s *MemoryStore) Logs() []*engine.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*engine.LogEntry(nil), s.logs...)
}

// AddTask appends a script task.
func (s *MemoryStore) AddTask(_ context.Context, task *engine.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *task
	s.tasks = append(s.tasks, &c)
	return nil
}

// Tasks returns the script tasks.
func (s *MemoryStore) Tasks() []*engine.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*engine.Task(nil), s.tasks...)
}

var _ Store = (*MemoryStore)(nil)
