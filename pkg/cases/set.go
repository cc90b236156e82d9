package cases

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Field is the entered value of one case field.
type Field struct {
	Name      string           `json:"name" yaml:"name" validate:"required"`
	ValueType engine.ValueType `json:"valueType" yaml:"valueType"`
	Value     string           `json:"value,omitempty" yaml:"value,omitempty"`
	Start     *time.Time       `json:"start,omitempty" yaml:"start,omitempty"`
	End       *time.Time       `json:"end,omitempty" yaml:"end,omitempty"`
	Tags      []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Set is a case with its fields as entered by a user and completed by the
// build scripts. Slot addresses one instance of a repeated case.
type Set struct {
	Name   string   `json:"name" yaml:"name" validate:"required"`
	Slot   string   `json:"slot,omitempty" yaml:"slot,omitempty"`
	Fields []*Field `json:"fields" yaml:"fields" validate:"dive"`

	mu sync.Mutex
}

// Field returns the field by name.
func (s *Set) Field(name string) (*Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field(name)
}

func (s *Set) field(name string) (*Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldNames returns the field names in name order.
func (s *Set) FieldNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}

// update applies fn to a field under the set lock.
func (s *Set) update(name string, fn func(f *Field) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.field(name)
	if !ok {
		return engine.NewNotFoundError("case field", name)
	}
	return fn(f)
}

// CaseValues converts the set into case values of the tier.
func (s *Set) CaseValues(caseType engine.CaseType, scope engine.CaseValue) []*engine.CaseValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]*engine.CaseValue, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Value == "" {
			continue
		}
		v := scope
		v.Tier = engine.TierOf(caseType)
		v.CaseName = s.Name
		v.CaseFieldName = f.Name
		v.CaseSlot = s.Slot
		v.ValueType = f.ValueType
		v.Value = f.Value
		v.Start = f.Start
		v.End = f.End
		v.Tags = append([]string(nil), f.Tags...)
		values = append(values, &v)
	}
	return values
}

// nativeValue returns the field value as a script value, nil when unset.
func nativeValue(f *Field) (any, error) {
	if f.Value == "" {
		return nil, nil
	}
	v := engine.CaseValue{ValueType: f.ValueType, Value: f.Value}
	return v.Native()
}

// formatValue renders a script value as the text form of the value type.
func formatValue(v any, valueType engine.ValueType) (string, error) {
	if v == nil {
		return "", nil
	}
	switch {
	case valueType.IsNumeric():
		d, err := scripting.Decimal(v)
		if err != nil {
			return "", err
		}
		if valueType == engine.ValueTypeInteger && !d.IsInteger() {
			return "", fmt.Errorf("value %s is not an integer", d)
		}
		return d.String(), nil
	case valueType == engine.ValueTypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("value of type %T is not a boolean", v)
		}
		return strconv.FormatBool(b), nil
	case valueType == engine.ValueTypeDate:
		t, err := scripting.Date(v)
		if err != nil {
			return "", err
		}
		return scripting.FormatDate(t), nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case decimal.Decimal:
		return val.String(), nil
	}
	return fmt.Sprint(v), nil
}
