package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FunctionType identifies the kind of a regulation script and therefore the
// runtime surface it sees.
type FunctionType string

const (
	FunctionCaseAvailable           FunctionType = "CaseAvailable"
	FunctionCaseBuild               FunctionType = "CaseBuild"
	FunctionCaseValidate            FunctionType = "CaseValidate"
	FunctionCaseRelationBuild       FunctionType = "CaseRelationBuild"
	FunctionCaseRelationValidate    FunctionType = "CaseRelationValidate"
	FunctionCollectorStart          FunctionType = "CollectorStart"
	FunctionCollectorApply          FunctionType = "CollectorApply"
	FunctionCollectorEnd            FunctionType = "CollectorEnd"
	FunctionWageTypeValue           FunctionType = "WageTypeValue"
	FunctionWageTypeResult          FunctionType = "WageTypeResult"
	FunctionPayrunStart             FunctionType = "PayrunStart"
	FunctionPayrunEmployeeAvailable FunctionType = "PayrunEmployeeAvailable"
	FunctionPayrunEmployeeStart     FunctionType = "PayrunEmployeeStart"
	FunctionPayrunWageTypeAvailable FunctionType = "PayrunWageTypeAvailable"
	FunctionPayrunEmployeeEnd       FunctionType = "PayrunEmployeeEnd"
	FunctionPayrunEnd               FunctionType = "PayrunEnd"
	FunctionReportStart             FunctionType = "ReportStart"
	FunctionReportBuild             FunctionType = "ReportBuild"
	FunctionReportEnd               FunctionType = "ReportEnd"
)

// AllFunctionTypes lists every script kind in evaluation order.
var AllFunctionTypes = []FunctionType{
	FunctionCaseAvailable, FunctionCaseBuild, FunctionCaseValidate,
	FunctionCaseRelationBuild, FunctionCaseRelationValidate,
	FunctionCollectorStart, FunctionCollectorApply, FunctionCollectorEnd,
	FunctionWageTypeValue, FunctionWageTypeResult,
	FunctionPayrunStart, FunctionPayrunEmployeeAvailable, FunctionPayrunEmployeeStart,
	FunctionPayrunWageTypeAvailable, FunctionPayrunEmployeeEnd, FunctionPayrunEnd,
	FunctionReportStart, FunctionReportBuild, FunctionReportEnd,
}

// IsPayrun returns true for the job level script kinds, which get a longer timeout.
func (f FunctionType) IsPayrun() bool {
	return strings.HasPrefix(string(f), "Payrun")
}

// Validate checks if the function type is known.
func (f FunctionType) Validate() error {
	for _, known := range AllFunctionTypes {
		if f == known {
			return nil
		}
	}
	return fmt.Errorf("invalid function type: %s", f)
}

// ScriptLanguage selects the backend compiling an expression.
type ScriptLanguage string

const (
	// LanguageStarlark runs full scripts with host functions. It is the default.
	LanguageStarlark ScriptLanguage = "starlark"

	// LanguageCEL runs side effect free expressions.
	LanguageCEL ScriptLanguage = "cel"

	// LanguageWasm runs sandboxed WebAssembly modules exporting a value function.
	LanguageWasm ScriptLanguage = "wasm"
)

// Expression is a script body attached to a regulation object.
// In bundles it may be written as a plain string, which selects Starlark.
type Expression struct {
	Language ScriptLanguage `json:"language,omitempty" yaml:"language,omitempty"`
	Source   string         `json:"source,omitempty" yaml:"source,omitempty"`
}

// Starlark is a shorthand for a Starlark expression.
func Starlark(source string) Expression {
	return Expression{Language: LanguageStarlark, Source: source}
}

// IsEmpty reports whether the expression has no source.
func (e Expression) IsEmpty() bool {
	return strings.TrimSpace(e.Source) == ""
}

// Lang returns the language, defaulting to Starlark.
func (e Expression) Lang() ScriptLanguage {
	if e.Language == "" {
		return LanguageStarlark
	}
	return e.Language
}

// UnmarshalYAML accepts either a scalar source or a mapping.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Language = LanguageStarlark
		e.Source = node.Value
		return nil
	}
	type plain Expression
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Expression(p)
	return nil
}

// UnmarshalJSON accepts either a string source or an object.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var source string
	if err := json.Unmarshal(data, &source); err == nil {
		e.Language = LanguageStarlark
		e.Source = source
		return nil
	}
	type plain Expression
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Expression(p)
	return nil
}

// Scripted is implemented by regulation objects carrying expressions.
type Scripted interface {
	Expression(functionType FunctionType) Expression
}
