package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas bundles are unified with.
// All values share the registry context so they can be unified.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// builtinDefinitions maps schema names to definitions of the builtin payroll schema.
var builtinDefinitions = map[string]string{
	"bundle":     "#Bundle",
	"tenant":     "#Tenant",
	"calendar":   "#Calendar",
	"regulation": "#Regulation",
	"payroll":    "#Payroll",
	"payrun":     "#Payrun",
	"caseValue":  "#CaseValue",
	"expression": "#Expression",
}

// NewSchemaRegistry creates a new schema registry with the builtin schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	root := sr.ctx.CompileString(builtinPayrollSchema, cue.Filename("payroll.cue"))
	if err := root.Err(); err != nil {
		panic(fmt.Sprintf("builtin payroll schema: %v", err))
	}
	for name, def := range builtinDefinitions {
		sr.schemas[name] = root.LookupPath(cue.ParsePath(def))
	}
}

// Context returns the CUE context of the registry.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles and registers a schema. When the source defines
// #Schema, that definition is registered; otherwise the whole value.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def := val.LookupPath(cue.ParsePath("#Schema")); def.Exists() {
		val = def
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies a value with a named schema.
func (sr *SchemaRegistry) Unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	return schema.Unify(val), nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	unified, err := sr.Unify(schemaName, dataVal)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names in name order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinPayrollSchema constrains bundle files. Objects stay open so new
// engine fields do not need a schema change; the top level is closed.
const builtinPayrollSchema = `
#Name: string & !=""

// Dates are RFC 3339 timestamps.
#Date: string & =~"^[0-9]{4}-[0-9]{2}-[0-9]{2}T"

#Attributes: {[string]: _}

#Expression: string | {
	language?: "starlark" | "cel" | "wasm"
	source:    string
}

#TimeUnit: "Year" | "SemiYear" | "Quarter" | "BiMonth" | "CalendarMonth" | "SemiMonth" | "BiWeek" | "Week" | "Day"

#ValueType: "String" | "Boolean" | "Integer" | "Decimal" | "Money" | "Percent" | "Date"

#CaseType: "Global" | "National" | "Company" | "Employee"

#Number: number | (string & =~"^-?[0-9]+(\\.[0-9]+)?$")

#Tenant: {
	id?:         int
	identifier:  string & =~"^[A-Za-z0-9_.-]+$"
	culture?:    string
	calendar?:   string
	attributes?: #Attributes
	created?:    #Date
}

#Calendar: {
	id?:               int
	tenantId?:         int
	name:              #Name
	cycleTimeUnit?:    #TimeUnit
	periodTimeUnit:    #TimeUnit
	firstMonthOfYear?: int & >=1 & <=12
	firstDayOfWeek?:   int & >=0 & <=6
	workDays?: [...(int & >=0 & <=6)]
}

#Division: {
	name: #Name
	...
}

#Employee: {
	identifier: #Name
	divisions?: [...#Name]
	status?:    "Active" | "Inactive"
	...
}

#Meta: {
	created?:    #Date
	clusters?: [...string]
	attributes?: #Attributes
	...
}

#Case: {
	#Meta
	name:                 #Name
	caseType:             #CaseType
	availableExpression?: #Expression
	buildExpression?:     #Expression
	validateExpression?:  #Expression
}

#CaseField: {
	#Meta
	name:      #Name
	caseName:  #Name
	valueType: #ValueType
	timeType?: "Timeless" | "Moment" | "Period" | "CalendarPeriod"
}

#CaseRelation: {
	#Meta
	sourceCaseName:      #Name
	targetCaseName:      #Name
	buildExpression?:    #Expression
	validateExpression?: #Expression
}

#Collector: {
	#Meta
	name:             #Name
	collectMode?:     "Summary" | "Minimum" | "Maximum" | "Average" | "Range" | "Count"
	negated?:         bool
	threshold?:       #Number
	minResult?:       #Number
	maxResult?:       #Number
	startExpression?: #Expression
	applyExpression?: #Expression
	endExpression?:   #Expression
}

#WageType: {
	#Meta
	wageTypeNumber:    #Number
	name:              #Name
	collectors?: [...#Name]
	collectorGroups?: [...#Name]
	valueExpression?:  #Expression
	resultExpression?: #Expression
}

#Lookup: {
	#Meta
	name:       #Name
	rangeSize?: #Number
	values: [...{
		key?:        string
		rangeValue?: #Number
		value:       string
		...
	}]
}

#Report: {
	#Meta
	name: #Name
	parameters?: [...{
		name:       #Name
		valueType?: #ValueType
		value?:     string
		mandatory?: bool
	}]
	startExpression?: #Expression
	buildExpression?: #Expression
	endExpression?:   #Expression
}

#Script: {
	#Meta
	name:  #Name
	value: string
	functionTypes?: [...string]
}

#Regulation: {
	name:              #Name
	namespace?:        string
	version?:          int
	sharedRegulation?: bool
	created?:          #Date
	objects?: {
		cases?: [...#Case]
		caseFields?: [...#CaseField]
		caseRelations?: [...#CaseRelation]
		collectors?: [...#Collector]
		wageTypes?: [...#WageType]
		lookups?: [...#Lookup]
		reports?: [...#Report]
		scripts?: [...#Script]
	}
}

#Payroll: {
	name:     #Name
	division: #Name
	clusterSet?: {
		name?: string
		includeClusters?: [...string]
		excludeClusters?: [...string]
	}
	layers: [#Layer, ...#Layer]
	created?: #Date
}

#Layer: {
	level:             int
	priority:          int
	regulationName:    #Name
	regulationTenant?: string
}

#Payrun: {
	name:                         #Name
	payroll:                      #Name
	startExpression?:             #Expression
	employeeAvailableExpression?: #Expression
	employeeStartExpression?:     #Expression
	wageTypeAvailableExpression?: #Expression
	employeeEndExpression?:       #Expression
	endExpression?:               #Expression
	created?:                     #Date
}

#CaseValue: {
	tier:          #CaseType
	employee?:     #Name
	division?:     #Name
	caseName?:     string
	caseFieldName: #Name
	caseSlot?:     string
	valueType:     #ValueType
	value:         string
	start?:        #Date
	end?:          #Date
	cancellationDate?: #Date
	tags?: [...string]
	attributes?: #Attributes
	created?:    #Date
	if tier == "Employee" {
		employee: #Name
	}
	if tier == "Company" {
		division: #Name
	}
}

#Share: {
	regulation:        #Name
	consumerTenant:    #Name
	consumerDivision?: string
	created?:          #Date
}

#Bundle: {
	tenant: #Tenant
	calendars?: [...#Calendar]
	divisions?: [...#Division]
	employees?: [...#Employee]
	regulations?: [...#Regulation]
	payrolls?: [...#Payroll]
	payruns?: [...#Payrun]
	caseValues?: [...#CaseValue]
	shares?: [...#Share]
}
`
