package report

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
)

// Request asks for one report.
type Request struct {
	ReportName string `json:"reportName" validate:"required"`

	// Parameters override the parameter defaults of the report.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Period bounds the result queries, the context period when zero.
	Period engine.DatePeriod `json:"period"`
}

// Table is a named data table built by the report scripts.
type Table struct {
	Name    string           `json:"name"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Result is the data set of an executed report.
type Result struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters"`
	Tables     []*Table          `json:"tables"`

	// Built is false when the start or build script declined the report.
	Built bool `json:"built"`
}

// Table returns the table by name.
func (r *Result) Table(name string) (*Table, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Service executes derived reports: parameters are resolved, then the
// start, build and end scripts run in order over a shared data set.
type Service struct {
	runtime    *facade.Runtime
	derivation *regulation.Derivation
	employees  engine.EmployeeRepository
	results    engine.ResultProvider
	logger     zerolog.Logger
}

// NewService creates a report service. Employees and results are optional;
// without them the matching queries are not bound.
func NewService(rt *facade.Runtime, employees engine.EmployeeRepository, results engine.ResultProvider) *Service {
	c := rt.Context()
	return &Service{
		runtime:    rt,
		derivation: c.Derivation,
		employees:  employees,
		results:    results,
		logger:     c.Logger.With().Str("component", "report-service").Logger(),
	}
}

// Execute runs a report.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	if s.derivation == nil {
		return nil, engine.NewContractError("reports need a derivation", nil).WithCode(engine.ErrCodeValidation)
	}
	derived, ok := s.derivation.Report(req.ReportName)
	if !ok {
		return nil, engine.NewNotFoundError("report", req.ReportName)
	}
	def := derived.Object

	params, err := resolveParameters(def, req.Parameters)
	if err != nil {
		return nil, err
	}
	period := req.Period
	if period.Start.IsZero() {
		period = s.runtime.Context().Period
	}
	state := &dataSet{parameters: params}
	attributes := facade.NewAttributes(regulation.InheritedAttributes(derived))

	phase := func(functionType engine.FunctionType) (bool, error) {
		expr, _, _ := regulation.InheritedExpression(derived, functionType)
		return s.runtime.Predicate(ctx, facade.Call{
			FunctionType: functionType,
			Object:       def.Name,
			Expression:   expr,
			Attributes:   attributes,
			Capabilities: []facade.Capability{reportCapability{
				service: s,
				data:    state,
				phase:   functionType,
				period:  period,
			}},
		}, true)
	}

	result := &Result{Name: def.Name}
	for _, ft := range []engine.FunctionType{engine.FunctionReportStart, engine.FunctionReportBuild} {
		ok, err := phase(ft)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug().Str("report", def.Name).Str("function", string(ft)).Msg("Report declined")
			result.Parameters = state.parameterMap()
			return result, nil
		}
	}
	if _, err := phase(engine.FunctionReportEnd); err != nil {
		return nil, err
	}

	result.Built = true
	result.Parameters = state.parameterMap()
	result.Tables = state.tableList()
	s.logger.Debug().Str("report", def.Name).Int("tables", len(result.Tables)).Msg("Report built")
	return result, nil
}

// resolveParameters applies the request values over the defaults and checks
// mandatory parameters and value types.
func resolveParameters(def *engine.Report, values map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(def.Parameters))
	known := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		known[p.Name] = true
		value := p.Value
		if v, ok := values[p.Name]; ok {
			value = v
		}
		if value == "" {
			if p.Mandatory {
				return nil, engine.NewContractError(fmt.Sprintf("report parameter %s is mandatory", p.Name), nil).
					WithObject(def.Name).
					WithCode(engine.ErrCodeValidation)
			}
			continue
		}
		if p.ValueType != "" {
			v := engine.CaseValue{ValueType: p.ValueType, Value: value}
			if _, err := v.Native(); err != nil {
				return nil, engine.NewContractError(fmt.Sprintf("report parameter %s is not a %s", p.Name, p.ValueType), err).
					WithObject(def.Name).
					WithCode(engine.ErrCodeValidation)
			}
		}
		params[p.Name] = value
	}
	for name := range values {
		if !known[name] {
			return nil, engine.NewContractError(fmt.Sprintf("unknown report parameter %s", name), nil).
				WithObject(def.Name).
				WithCode(engine.ErrCodeValidation)
		}
	}
	return params, nil
}

// dataSet is the state shared by the scripts of one execution.
type dataSet struct {
	mu         sync.Mutex
	parameters map[string]string
	tables     []*Table
}

func (d *dataSet) parameterMap() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.parameters))
	for k, v := range d.parameters {
		out[k] = v
	}
	return out
}

func (d *dataSet) tableList() []*Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]*Table(nil), d.tables...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *dataSet) table(name string) (*Table, error) {
	for _, t := range d.tables {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, engine.NewNotFoundError("report table", name)
}
