package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayrunJob is one execution of a payrun for a period.
type PayrunJob struct {
	ID             int64        `json:"id"`
	TenantID       int64        `json:"tenantId"`
	PayrunID       int64        `json:"payrunId"`
	PayrollID      int64        `json:"payrollId"`
	DivisionID     int64        `json:"divisionId"`
	ParentJobID    int64        `json:"parentJobId,omitempty"`
	Name           string       `json:"name"`
	JobStatus      JobStatus    `json:"jobStatus"`
	RetroPayMode   RetroPayMode `json:"retroPayMode"`
	Forecast       string       `json:"forecast,omitempty"`
	CycleName      string       `json:"cycleName,omitempty"`
	Cycle          DatePeriod   `json:"cycle"`
	PeriodName     string       `json:"periodName,omitempty"`
	Period         DatePeriod   `json:"period"`
	EvaluationDate time.Time    `json:"evaluationDate"`
	Reason         string       `json:"reason,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	Created        time.Time    `json:"created"`
}

// IsRetro reports whether the job re-evaluates a past period for a parent job.
func (j *PayrunJob) IsRetro() bool {
	return j.ParentJobID != 0
}

// ResultBase is shared by every result row.
type ResultBase struct {
	ID         int64                  `json:"id"`
	JobID      int64                  `json:"jobId"`
	Value      decimal.Decimal        `json:"value"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	Tags       []string               `json:"tags,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Created    time.Time              `json:"created"`
}

// CollectorResult is the final value of a collector for an employee and period.
type CollectorResult struct {
	ResultBase
	CollectorName string      `json:"collectorName"`
	CollectMode   CollectMode `json:"collectMode"`
	Negated       bool        `json:"negated,omitempty"`
}

// CollectorCustomResult is an extra value emitted by a collector script.
type CollectorCustomResult struct {
	ResultBase
	CollectorName string `json:"collectorName"`
	Source        string `json:"source"`
}

// WageTypeResult is the value of a wage type for an employee and period.
type WageTypeResult struct {
	ResultBase
	WageTypeNumber decimal.Decimal `json:"wageTypeNumber"`
	WageTypeName   string          `json:"wageTypeName"`
}

// WageTypeCustomResult is an extra value emitted by a wage type script.
type WageTypeCustomResult struct {
	ResultBase
	WageTypeNumber decimal.Decimal `json:"wageTypeNumber"`
	Source         string          `json:"source"`
}

// PayrunResult is a free form named result of payrun scripts.
type PayrunResult struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"jobId"`
	Name      string    `json:"name"`
	Slot      string    `json:"slot,omitempty"`
	ValueType ValueType `json:"valueType"`
	Value     string    `json:"value"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Tags      []string  `json:"tags,omitempty"`
	Created   time.Time `json:"created"`
}

// PayrollResult aggregates every result of one employee in one job.
type PayrollResult struct {
	ID                    int64                    `json:"id"`
	TenantID              int64                    `json:"tenantId"`
	PayrollID             int64                    `json:"payrollId"`
	EmployeeID            int64                    `json:"employeeId"`
	DivisionID            int64                    `json:"divisionId"`
	PayrunJobID           int64                    `json:"payrunJobId"`
	Forecast              string                   `json:"forecast,omitempty"`
	Period                DatePeriod               `json:"period"`
	CollectorResults      []*CollectorResult       `json:"collectorResults,omitempty"`
	CollectorCustomResult []*CollectorCustomResult `json:"collectorCustomResults,omitempty"`
	WageTypeResults       []*WageTypeResult        `json:"wageTypeResults,omitempty"`
	WageTypeCustomResults []*WageTypeCustomResult  `json:"wageTypeCustomResults,omitempty"`
	PayrunResults         []*PayrunResult          `json:"payrunResults,omitempty"`
	Created               time.Time                `json:"created"`
}

// RetroRequest asks the orchestrator to re-run past periods.
type RetroRequest struct {
	ID           string    `json:"id"`
	EmployeeID   int64     `json:"employeeId,omitempty"`
	ScheduleDate time.Time `json:"scheduleDate"`
	Tags         []string  `json:"tags,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Created      time.Time `json:"created"`
}

// ResultQuery selects historical results of one employee.
type ResultQuery struct {
	TenantID   int64
	EmployeeID int64
	DivisionID int64
	PayrollID  int64

	// Period selects results whose period overlaps it.
	Period DatePeriod

	// Forecast restricts to one forecast name; empty selects legal results only.
	Forecast string

	// JobStatuses restricts on the status of the producing job.
	JobStatuses []JobStatus

	// Tags requires at least one matching tag when not empty.
	Tags []string

	WageTypeNumbers []decimal.Decimal
	CollectorNames  []string
}

// WebhookAction names the event a webhook message is about.
type WebhookAction string

const (
	WebhookActionPayrunFunction   WebhookAction = "PayrunFunctionRequest"
	WebhookActionPayrunJobProcess WebhookAction = "PayrunJobProcess"
	WebhookActionPayrunJobFinish  WebhookAction = "PayrunJobFinish"
	WebhookActionPayrunRetro      WebhookAction = "PayrunRetroRequest"
	WebhookActionReportFunction   WebhookAction = "ReportFunctionRequest"
	WebhookActionCaseFunction     WebhookAction = "CaseFunctionRequest"
)

// WebhookMessage is the payload delivered to a tenant webhook.
type WebhookMessage struct {
	ID          string        `json:"id"`
	TenantID    int64         `json:"tenantId"`
	Action      WebhookAction `json:"action"`
	RequestBody string        `json:"requestBody,omitempty"`
	Operation   string        `json:"operation,omitempty"`
	Tracked     bool          `json:"tracked"`
	Created     time.Time     `json:"created"`
}
