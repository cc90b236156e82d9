package payrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/casevalue"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
	"github.com/openfroyo/payroll/pkg/telemetry"
)

// Options configures payrun processing.
type Options struct {
	// Parallelism is the number of employees evaluated at once.
	Parallelism int `yaml:"parallelism" validate:"min=0,max=64"`

	// MaxExecutionRestarts bounds the restarts of one wage type.
	MaxExecutionRestarts int `yaml:"maxExecutionRestarts" validate:"min=0"`

	// MaxConsolidatedPeriods bounds the period walk of result queries.
	MaxConsolidatedPeriods int `yaml:"maxConsolidatedPeriods" validate:"min=0"`
}

// DefaultOptions returns the default processing options.
func DefaultOptions() Options {
	return Options{
		Parallelism:            4,
		MaxExecutionRestarts:   5,
		MaxConsolidatedPeriods: 120,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	if o.MaxExecutionRestarts <= 0 {
		o.MaxExecutionRestarts = d.MaxExecutionRestarts
	}
	if o.MaxConsolidatedPeriods <= 0 {
		o.MaxConsolidatedPeriods = d.MaxConsolidatedPeriods
	}
	return o
}

// Dependencies are the collaborators of a Processor. Results, Webhooks,
// Logs, Tasks, Metrics and Tracer are optional.
type Dependencies struct {
	Tenants    engine.TenantRepository
	Divisions  engine.DivisionRepository
	Employees  engine.EmployeeRepository
	Payrolls   engine.PayrollRepository
	CaseValues engine.CaseValueRepository
	Jobs       engine.PayrunJobRepository
	Results    engine.PayrollResultRepository

	Regulations *regulation.Resolver
	Calendars   *calendar.Resolver
	Invoker     scripting.Invoker

	Webhooks engine.WebhookDispatcher
	Logs     engine.LogSink
	Tasks    engine.TaskSink

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// JobRequest describes a payrun job to run.
type JobRequest struct {
	TenantID   int64
	PayrunName string

	// Name of the job, generated when empty.
	Name string

	// PeriodDate is any moment inside the payroll period to compute.
	PeriodDate time.Time

	// EvaluationDate defaults to now, RegulationDate to the evaluation date.
	EvaluationDate time.Time
	RegulationDate time.Time

	Forecast     string
	RetroPayMode engine.RetroPayMode
	ParentJobID  int64

	// EmployeeIDs restricts the job, all active division employees when empty.
	EmployeeIDs []int64

	User   *engine.User
	Reason string
	Tags   []string
}

// JobResult is the outcome of a payrun job.
type JobResult struct {
	Job           *engine.PayrunJob
	Results       []*engine.PayrollResult
	RetroRequests []engine.RetroRequest
	RuntimeValues map[string]any
}

// Processor runs payrun jobs: it resolves the regulations of the payroll,
// evaluates the selected employees in parallel and stores their results.
type Processor struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(deps Dependencies, opts Options, logger zerolog.Logger) *Processor {
	return &Processor{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "payrun-processor").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// jobRun is the shared state of one job execution.
type jobRun struct {
	tenant     *engine.Tenant
	division   *engine.Division
	payroll    *engine.Payroll
	payrun     *engine.Payrun
	job        *engine.PayrunJob
	derivation *regulation.Derivation
	base       *facade.Context
	retro      *RetroScheduler
}

// Run executes a job. When an employee fails the job is aborted; the
// returned result then carries the aborted job next to the error.
func (p *Processor) Run(ctx context.Context, req JobRequest) (*JobResult, error) {
	timer := telemetry.NewTimer()
	p.deps.Metrics.RecordJobStarted()

	run, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	job := run.job

	ctx, span := p.deps.Tracer.StartJobSpan(ctx, job.ID, run.payrun.Name)
	logger := p.logger.With().
		Int64("job_id", job.ID).
		Str("payrun", run.payrun.Name).
		Str("period", job.Period.String()).
		Logger()
	logger.Info().Msg("Payrun job started")

	result, runErr := p.execute(ctx, run, req, logger)
	telemetry.EndSpan(span, runErr)
	p.deps.Metrics.RecordJobCompleted(string(job.JobStatus), timer.Duration())
	if runErr != nil {
		logger.Error().Err(runErr).Str("status", string(job.JobStatus)).Msg("Payrun job failed")
		return result, runErr
	}

	logger.Info().
		Str("status", string(job.JobStatus)).
		Int("employees", len(result.Results)).
		Int("retro_requests", len(result.RetroRequests)).
		Dur("duration", timer.Duration()).
		Msg("Payrun job finished")
	return result, nil
}

func (p *Processor) prepare(ctx context.Context, req JobRequest) (*jobRun, error) {
	tenant, err := p.deps.Tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %d: %w", req.TenantID, err)
	}
	payrun, err := p.deps.Payrolls.GetPayrunByName(ctx, tenant.ID, req.PayrunName)
	if err != nil {
		return nil, fmt.Errorf("failed to get payrun %s: %w", req.PayrunName, err)
	}
	payroll, err := p.deps.Payrolls.GetPayroll(ctx, tenant.ID, payrun.PayrollID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payroll %d: %w", payrun.PayrollID, err)
	}
	division, err := p.deps.Divisions.GetDivision(ctx, tenant.ID, payroll.DivisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get division %d: %w", payroll.DivisionID, err)
	}

	evaluationDate := req.EvaluationDate
	if evaluationDate.IsZero() {
		evaluationDate = p.now()
	}
	regulationDate := req.RegulationDate
	if regulationDate.IsZero() {
		regulationDate = evaluationDate
	}

	derivation, err := p.deps.Regulations.Derive(ctx, payroll, regulation.Options{
		RegulationDate: regulationDate,
		EvaluationDate: evaluationDate,
		ClusterSet:     payroll.ClusterSet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to derive payroll %s: %w", payroll.Name, err)
	}

	cal, err := p.deps.Calendars.Calculator(ctx, tenant, division, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve calendar: %w", err)
	}
	if req.PeriodDate.IsZero() {
		return nil, engine.NewContractError("a period date is required", nil).
			WithCode(engine.ErrCodeValidation)
	}
	period := cal.Period(req.PeriodDate)
	cycle := cal.Cycle(req.PeriodDate)

	retroPayMode := req.RetroPayMode
	if retroPayMode == "" {
		retroPayMode = engine.RetroPayModeNone
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", payrun.Name, period.Start.Format("2006-01"))
	}
	job := &engine.PayrunJob{
		TenantID:       tenant.ID,
		PayrunID:       payrun.ID,
		PayrollID:      payroll.ID,
		DivisionID:     division.ID,
		ParentJobID:    req.ParentJobID,
		Name:           name,
		JobStatus:      engine.JobStatusDraft,
		RetroPayMode:   retroPayMode,
		Forecast:       req.Forecast,
		CycleName:      cycle.Start.Format("2006"),
		Cycle:          cycle,
		PeriodName:     period.Start.Format("2006-01"),
		Period:         period,
		EvaluationDate: evaluationDate,
		Reason:         req.Reason,
		Tags:           req.Tags,
		Created:        p.now(),
	}
	if err := p.deps.Jobs.CreatePayrunJob(ctx, job); err != nil {
		return nil, engine.NewInfrastructureError("failed to create payrun job", err).
			WithCode(engine.ErrCodeStore)
	}

	base := &facade.Context{
		Tenant:         tenant,
		User:           req.User,
		Payroll:        payroll,
		Division:       division,
		Job:            job,
		Period:         period,
		EvaluationDate: evaluationDate,
		RegulationDate: regulationDate,
		Culture:        p.deps.Calendars.Culture(tenant, division, nil),
		Calendar:       cal,
		Derivation:     derivation,
		Lookups:        regulation.NewLookupProvider(derivation),
		RuntimeValues:  facade.NewRuntimeValues(),
		Webhooks:       p.deps.Webhooks,
		Logs:           p.deps.Logs,
		Tasks:          p.deps.Tasks,
		Logger:         p.logger,
		Now:            p.now,
	}
	return &jobRun{
		tenant:     tenant,
		division:   division,
		payroll:    payroll,
		payrun:     payrun,
		job:        job,
		derivation: derivation,
		base:       base,
		retro:      NewRetroScheduler(period.Start, p.deps.Metrics),
	}, nil
}

func (p *Processor) execute(ctx context.Context, run *jobRun, req JobRequest, logger zerolog.Logger) (*JobResult, error) {
	job := run.job
	result := &JobResult{Job: job}

	rt := facade.NewRuntime(p.deps.Invoker, run.base)
	started, err := rt.Predicate(ctx, facade.Call{
		FunctionType: engine.FunctionPayrunStart,
		Object:       run.payrun.Name,
		Expression:   run.payrun.StartExpression,
	}, true)
	if err != nil {
		return result, p.finish(ctx, job, engine.JobStatusCancel, err)
	}
	if !started {
		logger.Info().Msg("Payrun start declined the job")
		return result, p.transition(ctx, job, engine.JobStatusCancel)
	}
	if err := p.transition(ctx, job, engine.JobStatusProcess); err != nil {
		return result, err
	}

	employees, err := p.employees(ctx, run, req.EmployeeIDs)
	if err != nil {
		return result, p.finish(ctx, job, engine.JobStatusAbort, err)
	}

	results, err := p.evaluateAll(ctx, run, employees, logger)
	result.Results = results
	if err != nil {
		return result, p.finish(ctx, job, engine.JobStatusAbort, err)
	}

	if _, err := rt.Invoke(ctx, facade.Call{
		FunctionType: engine.FunctionPayrunEnd,
		Object:       run.payrun.Name,
		Expression:   run.payrun.EndExpression,
	}); err != nil {
		return result, p.finish(ctx, job, engine.JobStatusAbort, err)
	}

	// Results are only stored for jobs that passed the payrun end.
	if p.deps.Results != nil {
		if err := p.deps.Results.SavePayrollResults(ctx, results...); err != nil {
			err = engine.NewInfrastructureError("failed to save payroll results", err).
				WithCode(engine.ErrCodeStore)
			return result, p.finish(ctx, job, engine.JobStatusAbort, err)
		}
	}

	result.RetroRequests = run.retro.Requests()
	result.RuntimeValues = run.base.RuntimeValues.PayrunValues()

	final := engine.JobStatusComplete
	if job.Forecast != "" {
		final = engine.JobStatusForecast
	}
	if err := p.finish(ctx, job, final, nil); err != nil {
		return result, err
	}
	p.notify(ctx, run, result)
	return result, nil
}

// employees returns the active employees of the division, restricted to ids.
func (p *Processor) employees(ctx context.Context, run *jobRun, ids []int64) ([]*engine.Employee, error) {
	all, err := p.deps.Employees.ListEmployees(ctx, run.tenant.ID, engine.Query{Status: engine.StatusActive})
	if err != nil {
		return nil, engine.NewInfrastructureError("failed to list employees", err).
			WithCode(engine.ErrCodeStore)
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []*engine.Employee
	for _, e := range all {
		if !e.InDivision(run.division.Name) {
			continue
		}
		if len(wanted) > 0 && !wanted[e.ID] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// evaluateAll fans the employees out over a bounded number of workers and
// returns the results in employee order. The first failure cancels the
// remaining employees.
func (p *Processor) evaluateAll(ctx context.Context, run *jobRun, employees []*engine.Employee, logger zerolog.Logger) ([]*engine.PayrollResult, error) {
	results := make([]*engine.PayrollResult, len(employees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for i, employee := range employees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := p.evaluateEmployee(gctx, run, employee, logger)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	var out []*engine.PayrollResult
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, err
}

// evaluateEmployee returns nil without error for employees skipped by the
// payrun scripts.
func (p *Processor) evaluateEmployee(ctx context.Context, run *jobRun, employee *engine.Employee, logger zerolog.Logger) (result *engine.PayrollResult, err error) {
	ctx, span := p.deps.Tracer.StartEmployeeSpan(ctx, run.job.ID, employee.Identifier)
	defer func() {
		telemetry.EndSpan(span, err)
		switch {
		case err != nil:
			p.deps.Metrics.RecordEmployeeEvaluated(telemetry.OutcomeFailure)
			logger.Warn().Err(err).Str("employee", employee.Identifier).Msg("Employee evaluation failed")
		case result != nil:
			p.deps.Metrics.RecordEmployeeEvaluated(telemetry.OutcomeSuccess)
		}
	}()

	cal, err := p.deps.Calendars.Calculator(ctx, run.tenant, run.division, employee)
	if err != nil {
		return nil, fmt.Errorf("employee %s: %w", employee.Identifier, err)
	}
	culture := p.deps.Calendars.Culture(run.tenant, run.division, employee)
	caseValues := casevalue.NewProvider(p.deps.CaseValues, casevalue.Scope{
		TenantID:   run.tenant.ID,
		EmployeeID: employee.ID,
		DivisionID: run.division.ID,
	}, run.base.EvaluationDate, casevalue.EmployeeTiers...)

	ectx := run.base.WithEmployee(employee, caseValues, cal, culture)
	ectx.Logger = p.logger.With().Str("employee", employee.Identifier).Logger()
	rt := facade.NewRuntime(p.deps.Invoker, ectx)

	var queries *ResultQueries
	if p.deps.Results != nil {
		queries = NewResultQueries(p.deps.Results, cal, run.job, employee.ID, p.opts.MaxConsolidatedPeriods)
	}
	evaluator := NewEvaluator(EvaluatorConfig{
		Runtime: rt,
		Payrun:  run.payrun,
		Queries: queries,
		Retro:   run.retro,
		Options: p.opts,
		Metrics: p.deps.Metrics,
	})

	for _, ft := range []engine.FunctionType{engine.FunctionPayrunEmployeeAvailable, engine.FunctionPayrunEmployeeStart} {
		ok, err := evaluator.RunPayrunScript(ctx, ft)
		if err != nil {
			return nil, fmt.Errorf("employee %s: %w", employee.Identifier, err)
		}
		if !ok {
			logger.Debug().Str("employee", employee.Identifier).Str("function", string(ft)).Msg("Employee skipped")
			return nil, nil
		}
	}

	if _, err := evaluator.Evaluate(ctx); err != nil {
		return nil, fmt.Errorf("employee %s: %w", employee.Identifier, err)
	}
	if _, err := evaluator.RunPayrunScript(ctx, engine.FunctionPayrunEmployeeEnd); err != nil {
		return nil, fmt.Errorf("employee %s: %w", employee.Identifier, err)
	}
	return evaluator.result(), nil
}

func (p *Processor) transition(ctx context.Context, job *engine.PayrunJob, next engine.JobStatus) error {
	if err := job.JobStatus.TransitionTo(next); err != nil {
		return err
	}
	if err := p.deps.Jobs.UpdatePayrunJobStatus(ctx, job.TenantID, job.ID, next); err != nil {
		return engine.NewInfrastructureError("failed to update payrun job status", err).
			WithCode(engine.ErrCodeStore)
	}
	job.JobStatus = next
	return nil
}

// finish moves the job to a terminal status and returns cause. A failing
// status update is joined to it.
func (p *Processor) finish(ctx context.Context, job *engine.PayrunJob, status engine.JobStatus, cause error) error {
	if err := p.transition(ctx, job, status); err != nil {
		if cause == nil {
			return err
		}
		return errors.Join(cause, err)
	}
	if cause != nil {
		class, code := "unknown", engine.CodeOf(cause)
		var e *engine.EngineError
		if errors.As(cause, &e) {
			class = string(e.Class)
		}
		p.deps.Metrics.RecordError(class, code)
	}
	return cause
}

// notify sends the tracked job finish and retro messages.
func (p *Processor) notify(ctx context.Context, run *jobRun, result *JobResult) {
	if p.deps.Webhooks == nil {
		return
	}
	messages := []engine.WebhookMessage{{
		ID:          uuid.NewString(),
		TenantID:    run.tenant.ID,
		Action:      engine.WebhookActionPayrunJobFinish,
		RequestBody: jsonBody(map[string]any{"jobId": run.job.ID, "status": run.job.JobStatus}),
		Tracked:     true,
		Created:     p.now(),
	}}
	for _, r := range result.RetroRequests {
		messages = append(messages, engine.WebhookMessage{
			ID:          uuid.NewString(),
			TenantID:    run.tenant.ID,
			Action:      engine.WebhookActionPayrunRetro,
			RequestBody: jsonBody(r),
			Tracked:     true,
			Created:     p.now(),
		})
	}
	for _, m := range messages {
		if err := p.deps.Webhooks.Send(ctx, m); err != nil {
			p.logger.Warn().Err(err).Str("action", string(m.Action)).Msg("Failed to queue webhook")
		}
	}
}

func jsonBody(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
