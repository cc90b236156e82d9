package payrun

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
)

// ResultQueries answers the result queries of the scripts of one employee.
// Queries only see results of earlier jobs: legal results, plus the results
// of the own forecast for forecast jobs.
type ResultQueries struct {
	provider   engine.ResultProvider
	calendar   *calendar.Calculator
	job        *engine.PayrunJob
	employeeID int64
	maxPeriods int
}

// NewResultQueries creates the queries of an employee within a job.
func NewResultQueries(provider engine.ResultProvider, cal *calendar.Calculator, job *engine.PayrunJob, employeeID int64, maxPeriods int) *ResultQueries {
	if maxPeriods <= 0 {
		maxPeriods = DefaultOptions().MaxConsolidatedPeriods
	}
	return &ResultQueries{
		provider:   provider,
		calendar:   cal,
		job:        job,
		employeeID: employeeID,
		maxPeriods: maxPeriods,
	}
}

func (q *ResultQueries) query(period engine.DatePeriod, tags []string) engine.ResultQuery {
	statuses := []engine.JobStatus{engine.JobStatusComplete}
	if q.job.Forecast != "" {
		statuses = append(statuses, engine.JobStatusForecast)
	}
	return engine.ResultQuery{
		TenantID:    q.job.TenantID,
		EmployeeID:  q.employeeID,
		DivisionID:  q.job.DivisionID,
		PayrollID:   q.job.PayrollID,
		Period:      period,
		Forecast:    q.job.Forecast,
		JobStatuses: statuses,
		Tags:        tags,
	}
}

// WageTypeResults returns the raw results of a wage type in a period.
func (q *ResultQueries) WageTypeResults(ctx context.Context, number decimal.Decimal, period engine.DatePeriod, tags []string) ([]*engine.WageTypeResult, error) {
	query := q.query(period, tags)
	query.WageTypeNumbers = []decimal.Decimal{number}
	results, err := q.provider.ListWageTypeResults(ctx, query)
	if err != nil {
		return nil, engine.NewInfrastructureError("failed to query wage type results", err).
			WithCode(engine.ErrCodeStore)
	}
	return results, nil
}

// WageTypeCustomResults returns the raw custom results of a wage type in a period.
func (q *ResultQueries) WageTypeCustomResults(ctx context.Context, number decimal.Decimal, period engine.DatePeriod, tags []string) ([]*engine.WageTypeCustomResult, error) {
	query := q.query(period, tags)
	query.WageTypeNumbers = []decimal.Decimal{number}
	results, err := q.provider.ListWageTypeCustomResults(ctx, query)
	if err != nil {
		return nil, engine.NewInfrastructureError("failed to query wage type custom results", err).
			WithCode(engine.ErrCodeStore)
	}
	return results, nil
}

// CollectorResults returns the raw results of a collector in a period.
func (q *ResultQueries) CollectorResults(ctx context.Context, name string, period engine.DatePeriod, tags []string) ([]*engine.CollectorResult, error) {
	query := q.query(period, tags)
	query.CollectorNames = []string{name}
	results, err := q.provider.ListCollectorResults(ctx, query)
	if err != nil {
		return nil, engine.NewInfrastructureError("failed to query collector results", err).
			WithCode(engine.ErrCodeStore)
	}
	return results, nil
}

// CollectorCustomResults returns the raw custom results of a collector in a period.
func (q *ResultQueries) CollectorCustomResults(ctx context.Context, name string, period engine.DatePeriod, tags []string) ([]*engine.CollectorCustomResult, error) {
	query := q.query(period, tags)
	query.CollectorNames = []string{name}
	results, err := q.provider.ListCollectorCustomResults(ctx, query)
	if err != nil {
		return nil, engine.NewInfrastructureError("failed to query collector custom results", err).
			WithCode(engine.ErrCodeStore)
	}
	return results, nil
}

// Periods returns the periods from the one containing start up to, but
// excluding, the job period. Walks longer than the limit are refused.
func (q *ResultQueries) Periods(start time.Time) ([]engine.DatePeriod, error) {
	var periods []engine.DatePeriod
	for p := q.calendar.Period(start); p.Start.Before(q.job.Period.Start); p = q.calendar.Period(p.End) {
		if len(periods) == q.maxPeriods {
			return nil, engine.NewDomainError(
				fmt.Sprintf("result walk from %s exceeds %d periods", start.Format(time.DateOnly), q.maxPeriods), nil).
				WithCode(engine.ErrCodePeriodLimit)
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// ConsolidatedWageTypeResults returns the newest result of a wage type in
// every period from start to the job period.
func (q *ResultQueries) ConsolidatedWageTypeResults(ctx context.Context, number decimal.Decimal, start time.Time, tags []string) ([]*engine.WageTypeResult, error) {
	periods, err := q.Periods(start)
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	all, err := q.WageTypeResults(ctx, number, span(periods), tags)
	if err != nil {
		return nil, err
	}
	var out []*engine.WageTypeResult
	for _, bucket := range bucketByPeriod(periods, all, wageTypeBase) {
		if len(bucket) > 0 {
			out = append(out, bucket[len(bucket)-1])
		}
	}
	return out, nil
}

// ConsolidatedCollectorResults returns the newest result of a collector in
// every period from start to the job period.
func (q *ResultQueries) ConsolidatedCollectorResults(ctx context.Context, name string, start time.Time, tags []string) ([]*engine.CollectorResult, error) {
	periods, err := q.Periods(start)
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	all, err := q.CollectorResults(ctx, name, span(periods), tags)
	if err != nil {
		return nil, err
	}
	var out []*engine.CollectorResult
	for _, bucket := range bucketByPeriod(periods, all, collectorBase) {
		if len(bucket) > 0 {
			out = append(out, bucket[len(bucket)-1])
		}
	}
	return out, nil
}

// RetroDifference is the change of a wage type result in a past period.
type RetroDifference struct {
	Period engine.DatePeriod
	Value  decimal.Decimal
}

// RetroWageTypeResults returns, per past period with more than one result,
// the newest result minus the one before. Empty unless the job computes
// retro value changes.
func (q *ResultQueries) RetroWageTypeResults(ctx context.Context, number decimal.Decimal, start time.Time, tags []string) ([]RetroDifference, error) {
	if q.job.RetroPayMode != engine.RetroPayModeValueChange {
		return nil, nil
	}
	periods, err := q.Periods(start)
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	all, err := q.WageTypeResults(ctx, number, span(periods), tags)
	if err != nil {
		return nil, err
	}
	var out []RetroDifference
	for i, bucket := range bucketByPeriod(periods, all, wageTypeBase) {
		if len(bucket) < 2 {
			continue
		}
		newest, previous := bucket[len(bucket)-1], bucket[len(bucket)-2]
		out = append(out, RetroDifference{
			Period: periods[i],
			Value:  newest.Value.Sub(previous.Value),
		})
	}
	return out, nil
}

func span(periods []engine.DatePeriod) engine.DatePeriod {
	return engine.DatePeriod{Start: periods[0].Start, End: periods[len(periods)-1].End}
}

func wageTypeBase(r *engine.WageTypeResult) *engine.ResultBase { return &r.ResultBase }

func collectorBase(r *engine.CollectorResult) *engine.ResultBase { return &r.ResultBase }

// bucketByPeriod groups results by the period holding their start, one
// bucket per period, oldest result first.
func bucketByPeriod[T any](periods []engine.DatePeriod, results []T, base func(T) *engine.ResultBase) [][]T {
	buckets := make([][]T, len(periods))
	for _, r := range results {
		b := base(r)
		for i, p := range periods {
			if p.Contains(b.Start) {
				buckets[i] = append(buckets[i], r)
				break
			}
		}
	}
	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			a, b := base(bucket[i]), base(bucket[j])
			if !a.Created.Equal(b.Created) {
				return a.Created.Before(b.Created)
			}
			return a.ID < b.ID
		})
	}
	return buckets
}

// resultsCapability binds the result queries.
type resultsCapability struct {
	queries *ResultQueries
}

func (rc resultsCapability) Bind(b *facade.Bindings) {
	q := rc.queries
	cycleStart := q.job.Cycle.Start
	if cycleStart.IsZero() {
		cycleStart = q.job.Period.Start
	}
	// before the job period by default
	past := engine.DatePeriod{Start: cycleStart, End: q.job.Period.Start}

	rangeArgs := func(args facade.Args) (engine.DatePeriod, []string, error) {
		startDate, err := args.OptDate(1, "start", past.Start)
		if err != nil {
			return engine.DatePeriod{}, nil, err
		}
		endDate, err := args.OptDate(2, "end", past.End)
		if err != nil {
			return engine.DatePeriod{}, nil, err
		}
		tags, err := args.Strings(3, "tags")
		if err != nil {
			return engine.DatePeriod{}, nil, err
		}
		return engine.DatePeriod{Start: startDate, End: endDate}, tags, nil
	}
	walkArgs := func(args facade.Args) (time.Time, []string, error) {
		startDate, err := args.OptDate(1, "start", cycleStart)
		if err != nil {
			return time.Time{}, nil, err
		}
		tags, err := args.Strings(2, "tags")
		if err != nil {
			return time.Time{}, nil, err
		}
		return startDate, tags, nil
	}

	b.Func("GetWageTypeResults", func(ctx context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		period, tags, err := rangeArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.WageTypeResults(ctx, number, period, tags)
		if err != nil {
			return nil, err
		}
		return resultList(results, wageTypeBase), nil
	})
	b.Func("GetWageTypeCustomResults", func(ctx context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		period, tags, err := rangeArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.WageTypeCustomResults(ctx, number, period, tags)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(results))
		for i, r := range results {
			entry := resultEntry(&r.ResultBase)
			entry["source"] = r.Source
			out[i] = entry
		}
		return out, nil
	})
	b.Func("GetConsolidatedWageTypeResults", func(ctx context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		start, tags, err := walkArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.ConsolidatedWageTypeResults(ctx, number, start, tags)
		if err != nil {
			return nil, err
		}
		return resultList(results, wageTypeBase), nil
	})
	b.Func("GetConsolidatedWageTypeValue", func(ctx context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		start, tags, err := walkArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.ConsolidatedWageTypeResults(ctx, number, start, tags)
		if err != nil {
			return nil, err
		}
		sum := decimal.Zero
		for _, r := range results {
			sum = sum.Add(r.Value)
		}
		return sum, nil
	})
	b.Func("GetCollectorResults", func(ctx context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		period, tags, err := rangeArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.CollectorResults(ctx, name, period, tags)
		if err != nil {
			return nil, err
		}
		return resultList(results, collectorBase), nil
	})
	b.Func("GetCollectorCustomResults", func(ctx context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		period, tags, err := rangeArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.CollectorCustomResults(ctx, name, period, tags)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(results))
		for i, r := range results {
			entry := resultEntry(&r.ResultBase)
			entry["source"] = r.Source
			out[i] = entry
		}
		return out, nil
	})
	b.Func("GetConsolidatedCollectorResults", func(ctx context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		start, tags, err := walkArgs(args)
		if err != nil {
			return nil, err
		}
		results, err := q.ConsolidatedCollectorResults(ctx, name, start, tags)
		if err != nil {
			return nil, err
		}
		return resultList(results, collectorBase), nil
	})
	b.Func("GetRetroWageTypeResults", func(ctx context.Context, args facade.Args) (any, error) {
		number, err := args.Decimal(0, "number")
		if err != nil {
			return nil, err
		}
		start, tags, err := walkArgs(args)
		if err != nil {
			return nil, err
		}
		diffs, err := q.RetroWageTypeResults(ctx, number, start, tags)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(diffs))
		for i, d := range diffs {
			out[i] = map[string]any{
				"value": d.Value,
				"start": d.Period.Start.Format(time.DateOnly),
				"end":   d.Period.End.Format(time.DateOnly),
			}
		}
		return out, nil
	})
}

func resultList[T any](results []T, base func(T) *engine.ResultBase) []any {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = resultEntry(base(r))
	}
	return out
}

func resultEntry(r *engine.ResultBase) map[string]any {
	tags := make([]any, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = t
	}
	return map[string]any{
		"value": r.Value,
		"start": r.Start.Format(time.DateOnly),
		"end":   r.End.Format(time.DateOnly),
		"tags":  tags,
	}
}
