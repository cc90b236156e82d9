package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Bundle is the master data of one tenant as read from a bundle file.
// Cross references use names; IDs are assigned when the bundle is applied.
type Bundle struct {
	// Tenant owns every object of the bundle.
	Tenant engine.Tenant `json:"tenant" yaml:"tenant"`

	Calendars   []*engine.Calendar  `json:"calendars,omitempty" yaml:"calendars,omitempty" validate:"dive"`
	Divisions   []*engine.Division  `json:"divisions,omitempty" yaml:"divisions,omitempty" validate:"dive"`
	Employees   []*engine.Employee  `json:"employees,omitempty" yaml:"employees,omitempty" validate:"dive"`
	Regulations []*RegulationBundle `json:"regulations,omitempty" yaml:"regulations,omitempty" validate:"dive"`
	Payrolls    []*PayrollBundle    `json:"payrolls,omitempty" yaml:"payrolls,omitempty" validate:"dive"`
	Payruns     []*PayrunBundle     `json:"payruns,omitempty" yaml:"payruns,omitempty" validate:"dive"`
	CaseValues  []*CaseValueBundle  `json:"caseValues,omitempty" yaml:"caseValues,omitempty" validate:"dive"`

	// Shares grant other tenants access to shared regulations of this tenant.
	Shares []*ShareBundle `json:"shares,omitempty" yaml:"shares,omitempty" validate:"dive"`
}

// RegulationBundle is a regulation with its objects.
type RegulationBundle struct {
	engine.Regulation `yaml:",inline"`
	Objects           engine.RegulationObjects `json:"objects" yaml:"objects"`
}

// PayrollBundle is a payroll referencing its division by name.
type PayrollBundle struct {
	engine.Payroll `yaml:",inline"`
	Division       string `json:"division" yaml:"division" validate:"required"`
}

// PayrunBundle is a payrun referencing its payroll by name.
type PayrunBundle struct {
	engine.Payrun `yaml:",inline"`
	Payroll       string `json:"payroll" yaml:"payroll" validate:"required"`
}

// CaseValueBundle is a case value referencing its employee or division by
// name. Employee values need an employee, company values a division.
type CaseValueBundle struct {
	engine.CaseValue `yaml:",inline"`
	Employee         string `json:"employee,omitempty" yaml:"employee,omitempty"`
	Division         string `json:"division,omitempty" yaml:"division,omitempty"`
}

// ShareBundle grants a consumer tenant, or one of its divisions, access to
// a shared regulation of the bundle tenant.
type ShareBundle struct {
	Regulation       string    `json:"regulation" yaml:"regulation" validate:"required"`
	ConsumerTenant   string    `json:"consumerTenant" yaml:"consumerTenant" validate:"required"`
	ConsumerDivision string    `json:"consumerDivision,omitempty" yaml:"consumerDivision,omitempty"`
	Created          time.Time `json:"created" yaml:"created"`
}

// ParsedBundles is the result of parsing bundle sources.
type ParsedBundles struct {
	// Bundles holds one bundle per tenant in source order.
	Bundles []*Bundle `json:"bundles"`

	// SourceFiles lists the files that were read.
	SourceFiles []string `json:"sourceFiles"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsedAt"`

	// Errors contains parse and validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether an error, not only warnings, was found.
func (p *ParsedBundles) HasErrors() bool {
	return len(p.errorsOnly()) > 0
}

func (p *ParsedBundles) errorsOnly() []ValidationError {
	var out []ValidationError
	for _, e := range p.Errors {
		if e.Severity == "error" {
			out = append(out, e)
		}
	}
	return out
}

// Err folds the errors into one error, nil when there are only warnings.
func (p *ParsedBundles) Err() error {
	errs := p.errorsOnly()
	if len(errs) == 0 {
		return nil
	}
	return engine.NewContractError(fmt.Sprintf("bundle validation failed: %s", errs[0]), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("errors", len(errs))
}

// ValidationError is a bundle error with its source position.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "payrolls[0].division").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}
