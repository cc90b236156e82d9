package engine

import (
	"time"
)

// Tenant is the top level owner of regulations, payrolls and employees.
type Tenant struct {
	// ID is the unique identifier of the tenant.
	ID int64 `json:"id" yaml:"id"`

	// Identifier is the external, human readable key.
	Identifier string `json:"identifier" yaml:"identifier" validate:"required"`

	// Culture is the default culture name (BCP-47, for example "de-CH").
	Culture string `json:"culture,omitempty" yaml:"culture,omitempty"`

	// Calendar is the default calendar name.
	Calendar string `json:"calendar,omitempty" yaml:"calendar,omitempty"`

	// Attributes contains free form tenant attributes.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// Created is when the tenant was created.
	Created time.Time `json:"created" yaml:"created"`
}

// Division is an organisational unit of a tenant.
type Division struct {
	ID         int64                  `json:"id" yaml:"id"`
	TenantID   int64                  `json:"tenantId" yaml:"tenantId"`
	Name       string                 `json:"name" yaml:"name" validate:"required"`
	Culture    string                 `json:"culture,omitempty" yaml:"culture,omitempty"`
	Calendar   string                 `json:"calendar,omitempty" yaml:"calendar,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Created    time.Time              `json:"created" yaml:"created"`
}

// Employee is a person paid by one or more divisions.
type Employee struct {
	ID         int64                  `json:"id" yaml:"id"`
	TenantID   int64                  `json:"tenantId" yaml:"tenantId"`
	Identifier string                 `json:"identifier" yaml:"identifier" validate:"required"`
	FirstName  string                 `json:"firstName,omitempty" yaml:"firstName,omitempty"`
	LastName   string                 `json:"lastName,omitempty" yaml:"lastName,omitempty"`
	Divisions  []string               `json:"divisions,omitempty" yaml:"divisions,omitempty"`
	Culture    string                 `json:"culture,omitempty" yaml:"culture,omitempty"`
	Calendar   string                 `json:"calendar,omitempty" yaml:"calendar,omitempty"`
	Status     ObjectStatus           `json:"status,omitempty" yaml:"status,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Created    time.Time              `json:"created" yaml:"created"`
}

// InDivision reports whether the employee works for the named division.
func (e *Employee) InDivision(name string) bool {
	for _, d := range e.Divisions {
		if d == name {
			return true
		}
	}
	return false
}

// User is the actor starting a payrun job.
type User struct {
	ID         int64  `json:"id" yaml:"id"`
	Identifier string `json:"identifier" yaml:"identifier"`
	Culture    string `json:"culture,omitempty" yaml:"culture,omitempty"`
}

// ObjectStatus marks persisted objects as active or inactive.
type ObjectStatus string

const (
	StatusActive   ObjectStatus = "Active"
	StatusInactive ObjectStatus = "Inactive"
)

// IsActive treats an empty status as active.
func (s ObjectStatus) IsActive() bool {
	return s == "" || s == StatusActive
}

// Regulation is a named, versioned container of derivable objects.
type Regulation struct {
	// ID is the unique identifier of the regulation.
	ID int64 `json:"id" yaml:"id"`

	// TenantID is the owning tenant.
	TenantID int64 `json:"tenantId" yaml:"tenantId"`

	// Name is unique per tenant and referenced by payroll layers.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Namespace prefixes object names when set.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// Version is informational.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`

	// SharedRegulation allows other tenants to reference this regulation.
	SharedRegulation bool `json:"sharedRegulation,omitempty" yaml:"sharedRegulation,omitempty"`

	// Created is the temporal cut-off: a regulation date before it hides the regulation.
	Created time.Time `json:"created" yaml:"created"`
}

// RegulationShare grants a consumer tenant access to a shared regulation.
type RegulationShare struct {
	ID                   int64     `json:"id" yaml:"id"`
	ProviderTenantID     int64     `json:"providerTenantId" yaml:"providerTenantId"`
	ProviderRegulationID int64     `json:"providerRegulationId" yaml:"providerRegulationId"`
	ConsumerTenantID     int64     `json:"consumerTenantId" yaml:"consumerTenantId"`
	ConsumerDivisionID   int64     `json:"consumerDivisionId,omitempty" yaml:"consumerDivisionId,omitempty"`
	Created              time.Time `json:"created" yaml:"created"`
}

// ClusterSet filters objects by their cluster tags.
type ClusterSet struct {
	Name            string   `json:"name,omitempty" yaml:"name,omitempty"`
	IncludeClusters []string `json:"includeClusters,omitempty" yaml:"includeClusters,omitempty"`
	ExcludeClusters []string `json:"excludeClusters,omitempty" yaml:"excludeClusters,omitempty"`
}

// Matches applies include-any and exclude-any semantics.
// With a non-empty include list untagged objects are excluded.
func (c *ClusterSet) Matches(clusters []string) bool {
	if c == nil {
		return true
	}
	for _, ex := range c.ExcludeClusters {
		if containsString(clusters, ex) {
			return false
		}
	}
	if len(c.IncludeClusters) == 0 {
		return true
	}
	for _, in := range c.IncludeClusters {
		if containsString(clusters, in) {
			return true
		}
	}
	return false
}

// Payroll binds a division to an ordered set of regulation layers.
type Payroll struct {
	ID         int64          `json:"id" yaml:"id"`
	TenantID   int64          `json:"tenantId" yaml:"tenantId"`
	DivisionID int64          `json:"divisionId" yaml:"divisionId"`
	Name       string         `json:"name" yaml:"name" validate:"required"`
	ClusterSet *ClusterSet    `json:"clusterSet,omitempty" yaml:"clusterSet,omitempty"`
	Layers     []PayrollLayer `json:"layers" yaml:"layers" validate:"required,min=1,dive"`
	Created    time.Time      `json:"created" yaml:"created"`
}

// PayrollLayer places a regulation at a level and priority. Higher values override.
type PayrollLayer struct {
	Level          int    `json:"level" yaml:"level"`
	Priority       int    `json:"priority" yaml:"priority"`
	RegulationName string `json:"regulationName" yaml:"regulationName" validate:"required"`

	// RegulationTenant names the providing tenant of a shared regulation.
	RegulationTenant string `json:"regulationTenant,omitempty" yaml:"regulationTenant,omitempty"`
}

// Payrun holds the job level scripts of a payroll.
type Payrun struct {
	ID                          int64      `json:"id" yaml:"id"`
	TenantID                    int64      `json:"tenantId" yaml:"tenantId"`
	PayrollID                   int64      `json:"payrollId" yaml:"payrollId"`
	Name                        string     `json:"name" yaml:"name" validate:"required"`
	StartExpression             Expression `json:"startExpression,omitempty" yaml:"startExpression,omitempty"`
	EmployeeAvailableExpression Expression `json:"employeeAvailableExpression,omitempty" yaml:"employeeAvailableExpression,omitempty"`
	EmployeeStartExpression     Expression `json:"employeeStartExpression,omitempty" yaml:"employeeStartExpression,omitempty"`
	WageTypeAvailableExpression Expression `json:"wageTypeAvailableExpression,omitempty" yaml:"wageTypeAvailableExpression,omitempty"`
	EmployeeEndExpression       Expression `json:"employeeEndExpression,omitempty" yaml:"employeeEndExpression,omitempty"`
	EndExpression               Expression `json:"endExpression,omitempty" yaml:"endExpression,omitempty"`
	Created                     time.Time  `json:"created" yaml:"created"`
}

// Expression implements Scripted.
func (p *Payrun) Expression(functionType FunctionType) Expression {
	switch functionType {
	case FunctionPayrunStart:
		return p.StartExpression
	case FunctionPayrunEmployeeAvailable:
		return p.EmployeeAvailableExpression
	case FunctionPayrunEmployeeStart:
		return p.EmployeeStartExpression
	case FunctionPayrunWageTypeAvailable:
		return p.WageTypeAvailableExpression
	case FunctionPayrunEmployeeEnd:
		return p.EmployeeEndExpression
	case FunctionPayrunEnd:
		return p.EndExpression
	}
	return Expression{}
}

// LogLevel is the severity of a script log entry.
type LogLevel string

const (
	LogLevelDebug       LogLevel = "Debug"
	LogLevelInformation LogLevel = "Information"
	LogLevelWarning     LogLevel = "Warning"
	LogLevelError       LogLevel = "Error"
)

// LogEntry is an append-only message written by a script.
type LogEntry struct {
	ID       string    `json:"id"`
	TenantID int64     `json:"tenantId"`
	Level    LogLevel  `json:"level"`
	Message  string    `json:"message"`
	Error    string    `json:"error,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	Created  time.Time `json:"created"`
}

// Task is a follow-up created by a script for a human.
type Task struct {
	ID          string                 `json:"id"`
	TenantID    int64                  `json:"tenantId"`
	EmployeeID  int64                  `json:"employeeId,omitempty"`
	Name        string                 `json:"name"`
	Instruction string                 `json:"instruction,omitempty"`
	Scheduled   time.Time              `json:"scheduled"`
	Category    string                 `json:"category,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Created     time.Time              `json:"created"`
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
