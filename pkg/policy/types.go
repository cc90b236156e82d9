package policy

import (
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not deny access.
	SeverityWarning Severity = "warning"

	// SeverityError denies access.
	SeverityError Severity = "error"
)

// Blocks reports whether a violation of this severity denies access.
func (s Severity) Blocks() bool {
	return s == SeverityError
}

// Policy is a Rego module deciding regulation share access. Every module
// exposes a "deny" set; an empty set grants access.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is used for violations that do not state one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from, empty for built-in ones.
	Source string `json:"source,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the outcome of a share evaluation.
type Decision struct {
	Allowed     bool        `json:"allowed"`
	Violations  []Violation `json:"violations,omitempty"`
	Policies    []string    `json:"policies"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// ShareInput is the input document of share policies.
type ShareInput struct {
	Regulation RegulationInput `json:"regulation"`
	Shares     []GrantInput    `json:"shares"`
	Consumer   ConsumerInput   `json:"consumer"`

	// RegulationDate is a unix timestamp, zero when unbounded.
	RegulationDate int64 `json:"regulationDate"`
}

// RegulationInput describes the requested regulation.
type RegulationInput struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenantId"`
	Name     string `json:"name"`
	Shared   bool   `json:"shared"`
}

// GrantInput describes one share grant; Created is a unix timestamp.
type GrantInput struct {
	ConsumerTenantID   int64 `json:"consumerTenantId"`
	ConsumerDivisionID int64 `json:"consumerDivisionId"`
	Created            int64 `json:"created"`
}

// ConsumerInput identifies the consuming payroll.
type ConsumerInput struct {
	TenantID   int64 `json:"tenantId"`
	DivisionID int64 `json:"divisionId"`
}

// NewShareInput converts a share request into the policy input document.
func NewShareInput(req engine.ShareRequest) ShareInput {
	input := ShareInput{
		Shares: make([]GrantInput, 0, len(req.Shares)),
		Consumer: ConsumerInput{
			TenantID:   req.ConsumerTenantID,
			DivisionID: req.ConsumerDivisionID,
		},
	}
	if req.Regulation != nil {
		input.Regulation = RegulationInput{
			ID:       req.Regulation.ID,
			TenantID: req.Regulation.TenantID,
			Name:     req.Regulation.Name,
			Shared:   req.Regulation.SharedRegulation,
		}
	}
	for _, s := range req.Shares {
		input.Shares = append(input.Shares, GrantInput{
			ConsumerTenantID:   s.ConsumerTenantID,
			ConsumerDivisionID: s.ConsumerDivisionID,
			Created:            s.Created.Unix(),
		})
	}
	if !req.RegulationDate.IsZero() {
		input.RegulationDate = req.RegulationDate.Unix()
	}
	return input
}
