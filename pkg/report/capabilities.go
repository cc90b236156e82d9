package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// reportCapability binds the parameters and tables of a report. Parameters
// are writable in the start script, tables in build and end.
type reportCapability struct {
	service *Service
	data    *dataSet
	phase   engine.FunctionType
	period  engine.DatePeriod
}

func (r reportCapability) Bind(b *facade.Bindings) {
	d := r.data
	b.Value("ReportName", b.Object)

	b.Func("GetParameter", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		v, ok := d.parameters[name]
		if !ok {
			return nil, nil
		}
		return v, nil
	})
	b.Func("HasParameter", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		_, ok := d.parameters[name]
		return ok, nil
	})
	b.Func("GetTableNames", func(context.Context, facade.Args) (any, error) {
		tables := d.tableList()
		out := make([]any, len(tables))
		for i, t := range tables {
			out[i] = t.Name
		}
		return out, nil
	})
	b.Func("GetRows", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "table")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		t, err := d.table(name)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(t.Rows))
		for i, row := range t.Rows {
			copied := make(map[string]any, len(row))
			for k, v := range row {
				copied[k] = v
			}
			out[i] = copied
		}
		return out, nil
	})

	switch r.phase {
	case engine.FunctionReportStart:
		b.Func("SetParameter", func(_ context.Context, args facade.Args) (any, error) {
			name, err := args.String(0, "name")
			if err != nil {
				return nil, err
			}
			v, _ := args.Raw(1, "value")
			d.mu.Lock()
			defer d.mu.Unlock()
			if v == nil {
				delete(d.parameters, name)
				return nil, nil
			}
			d.parameters[name] = text(v)
			return nil, nil
		})
	case engine.FunctionReportBuild:
		r.bindTables(b)
		r.bindQueries(b)
	case engine.FunctionReportEnd:
		r.bindTables(b)
		b.Func("SetCell", func(_ context.Context, args facade.Args) (any, error) {
			name, err := args.String(0, "table")
			if err != nil {
				return nil, err
			}
			index, err := args.Int(1, "row")
			if err != nil {
				return nil, err
			}
			column, err := args.String(2, "column")
			if err != nil {
				return nil, err
			}
			v, _ := args.Raw(3, "value")
			d.mu.Lock()
			defer d.mu.Unlock()
			t, err := d.table(name)
			if err != nil {
				return nil, err
			}
			if index < 0 || index >= len(t.Rows) {
				return nil, engine.NewContractError(fmt.Sprintf("row %d of table %s is out of range", index, name), nil).
					WithCode(engine.ErrCodeOutOfRange)
			}
			if !contains(t.Columns, column) {
				return nil, engine.NewNotFoundError("report column", column)
			}
			t.Rows[index][column] = v
			return nil, nil
		})
	}
}

func (r reportCapability) bindTables(b *facade.Bindings) {
	d := r.data
	b.Func("AddTable", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		columns, err := args.Strings(1, "columns")
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, err := d.table(name); err == nil {
			return nil, engine.NewContractError(fmt.Sprintf("report table %s exists", name), nil).
				WithCode(engine.ErrCodeConflict)
		}
		d.tables = append(d.tables, &Table{Name: name, Columns: columns})
		return nil, nil
	})
	b.Func("AddRow", func(_ context.Context, args facade.Args) (any, error) {
		name, err := args.String(0, "table")
		if err != nil {
			return nil, err
		}
		raw, ok := args.Raw(1, "row")
		if !ok {
			return nil, engine.NewContractError("AddRow: argument row is required", nil).WithCode(engine.ErrCodeValidation)
		}
		values, ok := raw.(map[string]any)
		if !ok {
			return nil, engine.NewContractError(fmt.Sprintf("AddRow: row must be a dict, got %T", raw), nil).
				WithCode(engine.ErrCodeValidation)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		t, err := d.table(name)
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(t.Columns))
		for _, c := range t.Columns {
			row[c] = nil
		}
		for k, v := range values {
			if !contains(t.Columns, k) {
				return nil, engine.NewNotFoundError("report column", k)
			}
			row[k] = v
		}
		t.Rows = append(t.Rows, row)
		return len(t.Rows) - 1, nil
	})
}

// bindQueries binds the employee and result queries of build scripts.
func (r reportCapability) bindQueries(b *facade.Bindings) {
	s := r.service
	c := b.Context
	tenantID := int64(0)
	if c.Tenant != nil {
		tenantID = c.Tenant.ID
	}

	if s.employees != nil {
		b.Func("GetEmployees", func(ctx context.Context, args facade.Args) (any, error) {
			division, err := args.OptString(0, "division", "")
			if err != nil {
				return nil, err
			}
			employees, err := s.employees.ListEmployees(ctx, tenantID, engine.Query{Status: engine.StatusActive, OrderBy: "name"})
			if err != nil {
				return nil, engine.NewInfrastructureError("failed to list employees", err).WithCode(engine.ErrCodeStore)
			}
			var out []any
			for _, e := range employees {
				if division != "" && !e.InDivision(division) {
					continue
				}
				out = append(out, map[string]any{
					"id":         e.ID,
					"identifier": e.Identifier,
					"firstName":  e.FirstName,
					"lastName":   e.LastName,
				})
			}
			return out, nil
		})
	}

	if s.results == nil {
		return
	}
	query := func(args facade.Args) (engine.ResultQuery, error) {
		employeeID, err := args.Int(0, "employeeId")
		if err != nil {
			return engine.ResultQuery{}, err
		}
		start, err := args.OptDate(2, "start", r.period.Start)
		if err != nil {
			return engine.ResultQuery{}, err
		}
		end, err := args.OptDate(3, "end", r.period.End)
		if err != nil {
			return engine.ResultQuery{}, err
		}
		return engine.ResultQuery{
			TenantID:    tenantID,
			EmployeeID:  int64(employeeID),
			Period:      engine.DatePeriod{Start: start, End: end},
			JobStatuses: []engine.JobStatus{engine.JobStatusComplete},
		}, nil
	}
	b.Func("GetWageTypeResults", func(ctx context.Context, args facade.Args) (any, error) {
		q, err := query(args)
		if err != nil {
			return nil, err
		}
		number, err := args.Decimal(1, "number")
		if err != nil {
			return nil, err
		}
		q.WageTypeNumbers = []decimal.Decimal{number}
		results, err := s.results.ListWageTypeResults(ctx, q)
		if err != nil {
			return nil, engine.NewInfrastructureError("failed to query wage type results", err).WithCode(engine.ErrCodeStore)
		}
		out := make([]any, len(results))
		for i, res := range results {
			out[i] = entry(&res.ResultBase)
		}
		return out, nil
	})
	b.Func("GetCollectorResults", func(ctx context.Context, args facade.Args) (any, error) {
		q, err := query(args)
		if err != nil {
			return nil, err
		}
		name, err := args.String(1, "name")
		if err != nil {
			return nil, err
		}
		q.CollectorNames = []string{name}
		results, err := s.results.ListCollectorResults(ctx, q)
		if err != nil {
			return nil, engine.NewInfrastructureError("failed to query collector results", err).WithCode(engine.ErrCodeStore)
		}
		out := make([]any, len(results))
		for i, res := range results {
			out[i] = entry(&res.ResultBase)
		}
		return out, nil
	})
}

func entry(r *engine.ResultBase) map[string]any {
	return map[string]any{
		"value": r.Value,
		"start": scripting.FormatDate(r.Start),
		"end":   scripting.FormatDate(r.End),
		"jobId": r.JobID,
	}
}

// text renders a script value as a parameter value.
func text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	}
	return fmt.Sprint(v)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
