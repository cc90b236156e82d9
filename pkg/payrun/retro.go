package payrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
	"github.com/openfroyo/payroll/pkg/scripting"
	"github.com/openfroyo/payroll/pkg/telemetry"
)

// RetroScheduler collects the retro payrun requests of one job. Requests
// are handed to the caller with the job result; they are never executed here.
type RetroScheduler struct {
	periodStart time.Time
	metrics     *telemetry.Metrics
	now         func() time.Time

	mu       sync.Mutex
	requests []engine.RetroRequest
}

// NewRetroScheduler creates a scheduler for a job period.
func NewRetroScheduler(periodStart time.Time, metrics *telemetry.Metrics) *RetroScheduler {
	return &RetroScheduler{
		periodStart: periodStart,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Schedule requests a job level retro payrun starting at date.
func (s *RetroScheduler) Schedule(date time.Time, tags []string, reason string) (*engine.RetroRequest, error) {
	return s.ScheduleEmployee(0, date, tags, reason)
}

// ScheduleEmployee requests a retro payrun for one employee. The date must
// lie strictly before the period start.
func (s *RetroScheduler) ScheduleEmployee(employeeID int64, date time.Time, tags []string, reason string) (*engine.RetroRequest, error) {
	if !date.Before(s.periodStart) {
		return nil, engine.NewContractError(
			fmt.Sprintf("retro date %s must be before the period start %s",
				scripting.FormatDate(date), scripting.FormatDate(s.periodStart)), nil).
			WithCode(engine.ErrCodeOutOfRange)
	}

	request := engine.RetroRequest{
		ID:           uuid.NewString(),
		EmployeeID:   employeeID,
		ScheduleDate: date,
		Tags:         append([]string(nil), tags...),
		Reason:       reason,
		Created:      s.now(),
	}
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()

	s.metrics.RecordRetroRequest()
	return &request, nil
}

// Requests returns the accepted requests in scheduling order.
func (s *RetroScheduler) Requests() []engine.RetroRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.RetroRequest(nil), s.requests...)
}

// retroCapability binds ScheduleRetroPayrun.
type retroCapability struct {
	scheduler *RetroScheduler
}

func (rc retroCapability) Bind(b *facade.Bindings) {
	c := b.Context
	b.Func("ScheduleRetroPayrun", func(_ context.Context, args facade.Args) (any, error) {
		date, err := args.Date(0, "scheduleDate")
		if err != nil {
			return nil, err
		}
		tags, err := args.Strings(1, "tags")
		if err != nil {
			return nil, err
		}
		reason, err := args.OptString(2, "reason", "")
		if err != nil {
			return nil, err
		}
		var employeeID int64
		if c.Employee != nil {
			employeeID = c.Employee.ID
		}
		request, err := rc.scheduler.ScheduleEmployee(employeeID, date, tags, reason)
		if err != nil {
			return nil, err
		}
		return request.ID, nil
	})
}
