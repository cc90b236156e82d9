package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObjectMeta is shared by every derivable regulation object.
type ObjectMeta struct {
	// ID is the unique identifier of this object version.
	ID int64 `json:"id" yaml:"id"`

	// RegulationID is the owning regulation.
	RegulationID int64 `json:"regulationId" yaml:"regulationId"`

	// Created is when this version was added. Rows created after the
	// regulation date are invisible.
	Created time.Time `json:"created" yaml:"created"`

	// Clusters tags the object for cluster set filtering.
	Clusters []string `json:"clusters,omitempty" yaml:"clusters,omitempty"`

	// Attributes contains free form object attributes.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Meta returns the shared metadata.
func (m *ObjectMeta) Meta() *ObjectMeta {
	return m
}

// Derivable is implemented by objects subject to layered override.
type Derivable interface {
	// Key is the natural key grouping the versions and overrides of an object.
	Key() string
	Meta() *ObjectMeta
}

// CaseType scopes a case to a case value tier.
type CaseType string

const (
	CaseTypeGlobal   CaseType = "Global"
	CaseTypeNational CaseType = "National"
	CaseTypeCompany  CaseType = "Company"
	CaseTypeEmployee CaseType = "Employee"
)

// Case groups case fields entered together.
type Case struct {
	ObjectMeta          `yaml:",inline"`
	Name                string     `json:"name" yaml:"name" validate:"required"`
	CaseType            CaseType   `json:"caseType" yaml:"caseType"`
	AvailableExpression Expression `json:"availableExpression,omitempty" yaml:"availableExpression,omitempty"`
	BuildExpression     Expression `json:"buildExpression,omitempty" yaml:"buildExpression,omitempty"`
	ValidateExpression  Expression `json:"validateExpression,omitempty" yaml:"validateExpression,omitempty"`
}

func (c *Case) Key() string { return c.Name }

// Expression implements Scripted.
func (c *Case) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionCaseAvailable:
		return c.AvailableExpression
	case FunctionCaseBuild:
		return c.BuildExpression
	case FunctionCaseValidate:
		return c.ValidateExpression
	}
	return Expression{}
}

// ValueType is the data type of a case field value.
type ValueType string

const (
	ValueTypeString  ValueType = "String"
	ValueTypeBoolean ValueType = "Boolean"
	ValueTypeInteger ValueType = "Integer"
	ValueTypeDecimal ValueType = "Decimal"
	ValueTypeMoney   ValueType = "Money"
	ValueTypePercent ValueType = "Percent"
	ValueTypeDate    ValueType = "Date"
)

// IsNumeric reports whether values of this type convert to a decimal.
func (v ValueType) IsNumeric() bool {
	switch v {
	case ValueTypeInteger, ValueTypeDecimal, ValueTypeMoney, ValueTypePercent:
		return true
	}
	return false
}

// TimeType describes how a case field value relates to time.
type TimeType string

const (
	TimeTypeTimeless    TimeType = "Timeless"
	TimeTypeMoment      TimeType = "Moment"
	TimeTypePeriod      TimeType = "Period"
	TimeTypeCalendarDay TimeType = "CalendarPeriod"
)

// CaseField is a typed input of a case.
type CaseField struct {
	ObjectMeta `yaml:",inline"`
	Name       string    `json:"name" yaml:"name" validate:"required"`
	CaseName   string    `json:"caseName" yaml:"caseName"`
	ValueType  ValueType `json:"valueType" yaml:"valueType"`
	TimeType   TimeType  `json:"timeType,omitempty" yaml:"timeType,omitempty"`
}

func (f *CaseField) Key() string { return f.Name }

// CaseRelation links fields of a source case to a target case.
type CaseRelation struct {
	ObjectMeta         `yaml:",inline"`
	SourceCaseName     string     `json:"sourceCaseName" yaml:"sourceCaseName" validate:"required"`
	SourceCaseSlot     string     `json:"sourceCaseSlot,omitempty" yaml:"sourceCaseSlot,omitempty"`
	TargetCaseName     string     `json:"targetCaseName" yaml:"targetCaseName" validate:"required"`
	TargetCaseSlot     string     `json:"targetCaseSlot,omitempty" yaml:"targetCaseSlot,omitempty"`
	BuildExpression    Expression `json:"buildExpression,omitempty" yaml:"buildExpression,omitempty"`
	ValidateExpression Expression `json:"validateExpression,omitempty" yaml:"validateExpression,omitempty"`
}

func (r *CaseRelation) Key() string {
	return r.SourceCaseName + "#" + r.SourceCaseSlot + ">" + r.TargetCaseName + "#" + r.TargetCaseSlot
}

// Expression implements Scripted.
func (r *CaseRelation) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionCaseRelationBuild:
		return r.BuildExpression
	case FunctionCaseRelationValidate:
		return r.ValidateExpression
	}
	return Expression{}
}

// CollectMode selects how a collector aggregates contributions into its result.
type CollectMode string

const (
	CollectSummary CollectMode = "Summary"
	CollectMinimum CollectMode = "Minimum"
	CollectMaximum CollectMode = "Maximum"
	CollectAverage CollectMode = "Average"
	CollectRange   CollectMode = "Range"
	CollectCount   CollectMode = "Count"
)

// Collector aggregates wage type values during a payrun.
type Collector struct {
	ObjectMeta      `yaml:",inline"`
	Name            string           `json:"name" yaml:"name" validate:"required"`
	CollectMode     CollectMode      `json:"collectMode,omitempty" yaml:"collectMode,omitempty"`
	Negated         bool             `json:"negated,omitempty" yaml:"negated,omitempty"`
	Threshold       *decimal.Decimal `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	MinResult       *decimal.Decimal `json:"minResult,omitempty" yaml:"minResult,omitempty"`
	MaxResult       *decimal.Decimal `json:"maxResult,omitempty" yaml:"maxResult,omitempty"`
	CollectorGroups []string         `json:"collectorGroups,omitempty" yaml:"collectorGroups,omitempty"`
	StartExpression Expression       `json:"startExpression,omitempty" yaml:"startExpression,omitempty"`
	ApplyExpression Expression       `json:"applyExpression,omitempty" yaml:"applyExpression,omitempty"`
	EndExpression   Expression       `json:"endExpression,omitempty" yaml:"endExpression,omitempty"`
}

func (c *Collector) Key() string { return c.Name }

// Expression implements Scripted.
func (c *Collector) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionCollectorStart:
		return c.StartExpression
	case FunctionCollectorApply:
		return c.ApplyExpression
	case FunctionCollectorEnd:
		return c.EndExpression
	}
	return Expression{}
}

// InGroup reports whether the collector belongs to any of the groups.
func (c *Collector) InGroup(groups []string) bool {
	for _, g := range groups {
		if containsString(c.CollectorGroups, g) {
			return true
		}
	}
	return false
}

// WageType computes one payslip line and feeds collectors.
type WageType struct {
	ObjectMeta       `yaml:",inline"`
	WageTypeNumber   decimal.Decimal `json:"wageTypeNumber" yaml:"wageTypeNumber"`
	Name             string          `json:"name" yaml:"name" validate:"required"`
	Collectors       []string        `json:"collectors,omitempty" yaml:"collectors,omitempty"`
	CollectorGroups  []string        `json:"collectorGroups,omitempty" yaml:"collectorGroups,omitempty"`
	ValueExpression  Expression      `json:"valueExpression,omitempty" yaml:"valueExpression,omitempty"`
	ResultExpression Expression      `json:"resultExpression,omitempty" yaml:"resultExpression,omitempty"`
}

func (w *WageType) Key() string { return w.WageTypeNumber.String() }

// Expression implements Scripted.
func (w *WageType) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionWageTypeValue:
		return w.ValueExpression
	case FunctionWageTypeResult:
		return w.ResultExpression
	}
	return Expression{}
}

// LookupValue is one entry of a lookup table.
type LookupValue struct {
	Key           string            `json:"key,omitempty" yaml:"key,omitempty"`
	RangeValue    *decimal.Decimal  `json:"rangeValue,omitempty" yaml:"rangeValue,omitempty"`
	Value         string            `json:"value" yaml:"value"`
	Localizations map[string]string `json:"localizations,omitempty" yaml:"localizations,omitempty"`
}

// Lookup is a keyed or ranged value table.
type Lookup struct {
	ObjectMeta `yaml:",inline"`
	Name       string           `json:"name" yaml:"name" validate:"required"`
	RangeSize  *decimal.Decimal `json:"rangeSize,omitempty" yaml:"rangeSize,omitempty"`
	Values     []LookupValue    `json:"values" yaml:"values"`
}

func (l *Lookup) Key() string { return l.Name }

// ReportParameter is an input of a report.
type ReportParameter struct {
	Name      string    `json:"name" yaml:"name"`
	ValueType ValueType `json:"valueType,omitempty" yaml:"valueType,omitempty"`
	Value     string    `json:"value,omitempty" yaml:"value,omitempty"`
	Mandatory bool      `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// Report builds tabular data from payroll results.
type Report struct {
	ObjectMeta      `yaml:",inline"`
	Name            string            `json:"name" yaml:"name" validate:"required"`
	Parameters      []ReportParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	StartExpression Expression        `json:"startExpression,omitempty" yaml:"startExpression,omitempty"`
	BuildExpression Expression        `json:"buildExpression,omitempty" yaml:"buildExpression,omitempty"`
	EndExpression   Expression        `json:"endExpression,omitempty" yaml:"endExpression,omitempty"`
}

func (r *Report) Key() string { return r.Name }

// Expression implements Scripted.
func (r *Report) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionReportStart:
		return r.StartExpression
	case FunctionReportBuild:
		return r.BuildExpression
	case FunctionReportEnd:
		return r.EndExpression
	}
	return Expression{}
}

// Script is a shared function library loadable from other scripts.
type Script struct {
	ObjectMeta    `yaml:",inline"`
	Name          string         `json:"name" yaml:"name" validate:"required"`
	FunctionTypes []FunctionType `json:"functionTypes,omitempty" yaml:"functionTypes,omitempty"`
	Value         string         `json:"value" yaml:"value"`
}

func (s *Script) Key() string { return s.Name }

// Supports reports whether the library is available to a script kind.
// An empty list means all kinds.
func (s *Script) Supports(functionType FunctionType) bool {
	if len(s.FunctionTypes) == 0 {
		return true
	}
	for _, f := range s.FunctionTypes {
		if f == functionType {
			return true
		}
	}
	return false
}

// RegulationObjects holds every derivable object of one regulation.
type RegulationObjects struct {
	Cases         []*Case         `json:"cases,omitempty" yaml:"cases,omitempty"`
	CaseFields    []*CaseField    `json:"caseFields,omitempty" yaml:"caseFields,omitempty"`
	CaseRelations []*CaseRelation `json:"caseRelations,omitempty" yaml:"caseRelations,omitempty"`
	Collectors    []*Collector    `json:"collectors,omitempty" yaml:"collectors,omitempty"`
	WageTypes     []*WageType     `json:"wageTypes,omitempty" yaml:"wageTypes,omitempty"`
	Lookups       []*Lookup       `json:"lookups,omitempty" yaml:"lookups,omitempty"`
	Reports       []*Report       `json:"reports,omitempty" yaml:"reports,omitempty"`
	Scripts       []*Script       `json:"scripts,omitempty" yaml:"scripts,omitempty"`
}

// Each visits every object.
func (o *RegulationObjects) Each(fn func(kind ObjectKind, obj Derivable)) {
	for _, v := range o.Cases {
		fn(KindCase, v)
	}
	for _, v := range o.CaseFields {
		fn(KindCaseField, v)
	}
	for _, v := range o.CaseRelations {
		fn(KindCaseRelation, v)
	}
	for _, v := range o.Collectors {
		fn(KindCollector, v)
	}
	for _, v := range o.WageTypes {
		fn(KindWageType, v)
	}
	for _, v := range o.Lookups {
		fn(KindLookup, v)
	}
	for _, v := range o.Reports {
		fn(KindReport, v)
	}
	for _, v := range o.Scripts {
		fn(KindScript, v)
	}
}

// ObjectKind names a derivable object type.
type ObjectKind string

const (
	KindCase         ObjectKind = "case"
	KindCaseField    ObjectKind = "casefield"
	KindCaseRelation ObjectKind = "caserelation"
	KindCollector    ObjectKind = "collector"
	KindWageType     ObjectKind = "wagetype"
	KindLookup       ObjectKind = "lookup"
	KindReport       ObjectKind = "report"
	KindScript       ObjectKind = "script"
)
