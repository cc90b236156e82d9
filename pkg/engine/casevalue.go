package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CaseValueTier is one of the four stores a case value lives in.
type CaseValueTier string

const (
	TierEmployee CaseValueTier = "Employee"
	TierCompany  CaseValueTier = "Company"
	TierNational CaseValueTier = "National"
	TierGlobal   CaseValueTier = "Global"
)

// TierPrecedence is the lookup order, most specific first.
var TierPrecedence = []CaseValueTier{TierEmployee, TierCompany, TierNational, TierGlobal}

// TierOf maps a case type to the tier its values are stored in.
func TierOf(caseType CaseType) CaseValueTier {
	switch caseType {
	case CaseTypeGlobal:
		return TierGlobal
	case CaseTypeNational:
		return TierNational
	case CaseTypeCompany:
		return TierCompany
	}
	return TierEmployee
}

// CaseValue is a time sliced value of a case field.
type CaseValue struct {
	ID            int64         `json:"id" yaml:"id"`
	Tier          CaseValueTier `json:"tier" yaml:"tier" validate:"required"`
	TenantID      int64         `json:"tenantId" yaml:"tenantId"`
	EmployeeID    int64         `json:"employeeId,omitempty" yaml:"employeeId,omitempty"`
	DivisionID    int64         `json:"divisionId,omitempty" yaml:"divisionId,omitempty"`
	CaseName      string        `json:"caseName,omitempty" yaml:"caseName,omitempty"`
	CaseFieldName string        `json:"caseFieldName" yaml:"caseFieldName" validate:"required"`
	CaseSlot      string        `json:"caseSlot,omitempty" yaml:"caseSlot,omitempty"`
	ValueType     ValueType     `json:"valueType" yaml:"valueType"`

	// Value is the canonical text form of the value.
	Value string `json:"value" yaml:"value"`

	// Start and End bound the validity [Start, End); nil is open.
	Start *time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End   *time.Time `json:"end,omitempty" yaml:"end,omitempty"`

	// CancellationDate hides the value for evaluation dates on or after it.
	CancellationDate *time.Time `json:"cancellationDate,omitempty" yaml:"cancellationDate,omitempty"`

	Tags       []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Created    time.Time              `json:"created" yaml:"created"`
}

// Period returns the validity as a date period.
func (v *CaseValue) Period() DatePeriod {
	var p DatePeriod
	if v.Start != nil {
		p.Start = *v.Start
	}
	if v.End != nil {
		p.End = *v.End
	}
	return p
}

// VisibleAt reports whether the value existed and was not cancelled at the evaluation date.
func (v *CaseValue) VisibleAt(evaluationDate time.Time) bool {
	if v.Created.After(evaluationDate) {
		return false
	}
	if v.CancellationDate != nil && !evaluationDate.Before(*v.CancellationDate) {
		return false
	}
	return true
}

// Decimal parses a numeric value.
func (v *CaseValue) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("case value %s is not numeric: %w", v.CaseFieldName, err)
	}
	return d, nil
}

// Native converts the text value according to its value type.
func (v *CaseValue) Native() (interface{}, error) {
	switch {
	case v.ValueType.IsNumeric():
		return v.Decimal()
	case v.ValueType == ValueTypeBoolean:
		return strconv.ParseBool(v.Value)
	case v.ValueType == ValueTypeDate:
		return time.Parse(time.DateOnly, v.Value)
	}
	return v.Value, nil
}

// CaseValueQuery selects case values of one tier.
type CaseValueQuery struct {
	Tier          CaseValueTier
	TenantID      int64
	EmployeeID    int64
	DivisionID    int64
	CaseFieldName string

	// CaseSlot filters on the slot when not nil.
	CaseSlot *string
}
