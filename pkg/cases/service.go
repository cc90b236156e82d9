package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// Issue is a validation finding on a case or one of its fields.
type Issue struct {
	CaseName  string `json:"caseName"`
	CaseSlot  string `json:"caseSlot,omitempty"`
	FieldName string `json:"fieldName,omitempty"`
	Message   string `json:"message"`
}

func (i Issue) String() string {
	if i.FieldName == "" {
		return fmt.Sprintf("%s: %s", i.CaseName, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s", i.CaseName, i.FieldName, i.Message)
}

// Service runs the case scripts of a derivation: availability, build and
// validation of cases and of the relations between them.
type Service struct {
	runtime    *facade.Runtime
	derivation *regulation.Derivation
	logger     zerolog.Logger
}

// NewService creates a case service over a runtime. The runtime context
// must carry the derivation.
func NewService(rt *facade.Runtime) *Service {
	c := rt.Context()
	return &Service{
		runtime:    rt,
		derivation: c.Derivation,
		logger:     c.Logger.With().Str("component", "case-service").Logger(),
	}
}

func (s *Service) lookup(name string) (regulation.Derived[*engine.Case], error) {
	if s.derivation == nil {
		return regulation.Derived[*engine.Case]{}, engine.NewContractError("case scripts need a derivation", nil).
			WithCode(engine.ErrCodeValidation)
	}
	derived, ok := s.derivation.Case(name)
	if !ok {
		return derived, engine.NewNotFoundError("case", name)
	}
	return derived, nil
}

func (s *Service) call(derived regulation.Derived[*engine.Case], functionType engine.FunctionType, caps ...facade.Capability) facade.Call {
	expr, _, _ := regulation.InheritedExpression(derived, functionType)
	return facade.Call{
		FunctionType: functionType,
		Object:       derived.Object.Name,
		Expression:   expr,
		Attributes:   facade.NewAttributes(regulation.InheritedAttributes(derived)),
		Capabilities: caps,
	}
}

// Available runs the available script of a case. Cases without one are available.
func (s *Service) Available(ctx context.Context, caseName string) (bool, error) {
	derived, err := s.lookup(caseName)
	if err != nil {
		return false, err
	}
	call := s.call(derived, engine.FunctionCaseAvailable, caseCapability{})
	return s.runtime.Predicate(ctx, call, true)
}

// AvailableCases returns the names of the derived cases of a type whose
// available script accepts them.
func (s *Service) AvailableCases(ctx context.Context, caseType engine.CaseType) ([]string, error) {
	if s.derivation == nil {
		return nil, nil
	}
	var names []string
	for _, derived := range s.derivation.Cases() {
		if derived.Object.CaseType != caseType {
			continue
		}
		ok, err := s.Available(ctx, derived.Object.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, derived.Object.Name)
		}
	}
	return names, nil
}

// NewSet creates the set of a case with one field per derived case field,
// prefilled with the value valid at the moment when the runtime has case values.
func (s *Service) NewSet(ctx context.Context, caseName, slot string, moment time.Time) (*Set, error) {
	if _, err := s.lookup(caseName); err != nil {
		return nil, err
	}
	set := &Set{Name: caseName, Slot: slot}
	provider := s.runtime.Context().CaseValues
	var slotFilter *string
	if slot != "" {
		slotFilter = &slot
	}
	for _, def := range s.derivation.CaseFieldsOf(caseName) {
		field := &Field{Name: def.Name, ValueType: def.ValueType}
		if provider != nil {
			v, err := provider.ValueAt(ctx, def.Name, moment, slotFilter)
			if err != nil {
				return nil, fmt.Errorf("failed to load case field %s: %w", def.Name, err)
			}
			if v != nil {
				field.Value = v.Value
				field.Start = v.Start
				field.End = v.End
			}
		}
		set.Fields = append(set.Fields, field)
	}
	return set, nil
}

// Build runs the build script of the case over the set. A false result
// reports the case as not buildable.
func (s *Service) Build(ctx context.Context, set *Set) (bool, error) {
	derived, err := s.lookup(set.Name)
	if err != nil {
		return false, err
	}
	call := s.call(derived, engine.FunctionCaseBuild, caseCapability{set: set, writable: true})
	return s.runtime.Predicate(ctx, call, true)
}

// Validate checks the set against the derived case fields and runs the
// validate script. The set is valid when no issue is returned.
func (s *Service) Validate(ctx context.Context, set *Set) ([]Issue, error) {
	derived, err := s.lookup(set.Name)
	if err != nil {
		return nil, err
	}

	issues := s.checkFields(set)
	reporter := &issueReporter{caseName: set.Name, caseSlot: set.Slot}
	call := s.call(derived, engine.FunctionCaseValidate, caseCapability{set: set}, reporter)
	ok, err := s.runtime.Predicate(ctx, call, true)
	if err != nil {
		return nil, err
	}
	reported := reporter.list()
	issues = append(issues, reported...)
	if !ok && len(reported) == 0 {
		issues = append(issues, Issue{CaseName: set.Name, CaseSlot: set.Slot, Message: "rejected by the validate script"})
	}
	if len(issues) > 0 {
		s.logger.Debug().Str("case", set.Name).Int("issues", len(issues)).Msg("Case validation failed")
	}
	return issues, nil
}

// checkFields verifies field names, value formats and field periods.
func (s *Service) checkFields(set *Set) []Issue {
	defs := make(map[string]*engine.CaseField)
	for _, f := range s.derivation.CaseFieldsOf(set.Name) {
		defs[f.Name] = f
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	var issues []Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{CaseName: set.Name, CaseSlot: set.Slot, FieldName: field, Message: fmt.Sprintf(format, args...)})
	}
	for _, f := range set.Fields {
		def, ok := defs[f.Name]
		if !ok {
			add(f.Name, "unknown case field")
			continue
		}
		if f.ValueType == "" {
			f.ValueType = def.ValueType
		}
		if f.ValueType != def.ValueType {
			add(f.Name, "value type %s does not match %s", f.ValueType, def.ValueType)
			continue
		}
		if _, err := nativeValue(f); err != nil {
			add(f.Name, "invalid %s value %q", f.ValueType, f.Value)
		}
		if f.Start != nil && f.End != nil && !f.Start.Before(*f.End) {
			add(f.Name, "start %s is not before end %s", scripting.FormatDate(*f.Start), scripting.FormatDate(*f.End))
		}
		if def.TimeType == engine.TimeTypePeriod && f.Value != "" && f.Start == nil {
			add(f.Name, "a period value needs a start")
		}
	}
	return issues
}

// relations returns the derived relations from the source to the target case.
func (s *Service) relations(source, target *Set) []regulation.Derived[*engine.CaseRelation] {
	if s.derivation == nil {
		return nil
	}
	var out []regulation.Derived[*engine.CaseRelation]
	for _, r := range s.derivation.CaseRelations() {
		rel := r.Object
		if rel.SourceCaseName != source.Name || rel.TargetCaseName != target.Name {
			continue
		}
		if rel.SourceCaseSlot != "" && rel.SourceCaseSlot != source.Slot {
			continue
		}
		if rel.TargetCaseSlot != "" && rel.TargetCaseSlot != target.Slot {
			continue
		}
		out = append(out, r)
	}
	return out
}

func relationCall(derived regulation.Derived[*engine.CaseRelation], functionType engine.FunctionType, caps ...facade.Capability) facade.Call {
	expr, _, _ := regulation.InheritedExpression(derived, functionType)
	return facade.Call{
		FunctionType: functionType,
		Object:       derived.Object.Key(),
		Expression:   expr,
		Attributes:   facade.NewAttributes(regulation.InheritedAttributes(derived)),
		Capabilities: caps,
	}
}

// BuildRelations runs the build scripts of every relation from the source
// to the target case. The source is read only; the target is written.
func (s *Service) BuildRelations(ctx context.Context, source, target *Set) error {
	for _, r := range s.relations(source, target) {
		call := relationCall(r, engine.FunctionCaseRelationBuild, relationCapability{source: source, target: target, writable: true})
		if _, err := s.runtime.Invoke(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRelations runs the validate scripts of every relation from the
// source to the target case.
func (s *Service) ValidateRelations(ctx context.Context, source, target *Set) ([]Issue, error) {
	var issues []Issue
	for _, r := range s.relations(source, target) {
		reporter := &issueReporter{caseName: target.Name, caseSlot: target.Slot}
		call := relationCall(r, engine.FunctionCaseRelationValidate, relationCapability{source: source, target: target}, reporter)
		ok, err := s.runtime.Predicate(ctx, call, true)
		if err != nil {
			return nil, err
		}
		reported := reporter.list()
		issues = append(issues, reported...)
		if !ok && len(reported) == 0 {
			issues = append(issues, Issue{
				CaseName: target.Name,
				CaseSlot: target.Slot,
				Message:  fmt.Sprintf("relation from %s rejected by the validate script", source.Name),
			})
		}
	}
	return issues, nil
}
