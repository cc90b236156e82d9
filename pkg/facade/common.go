package facade

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/scripting"
)

// contextValues binds the identity and dates of the context.
type contextValues struct{}

func (contextValues) Bind(b *Bindings) {
	c := b.Context
	b.Value("FunctionType", string(b.FunctionType))
	b.Value("ObjectName", b.Object)
	b.Value("Culture", c.Culture.String())
	b.Value("EvaluationDate", dateValue(c.EvaluationDate))
	b.Value("RegulationDate", dateValue(c.RegulationDate))
	b.Value("PeriodStart", dateValue(c.Period.Start))
	b.Value("PeriodEnd", dateValue(c.Period.End))

	b.Value("TenantIdentifier", nil)
	if c.Tenant != nil {
		b.Value("TenantIdentifier", c.Tenant.Identifier)
		b.Func("GetTenantAttribute", attributeReader(c.Tenant.Attributes))
	}
	b.Value("UserIdentifier", nil)
	if c.User != nil {
		b.Value("UserIdentifier", c.User.Identifier)
	}
	b.Value("PayrollName", nil)
	if c.Payroll != nil {
		b.Value("PayrollName", c.Payroll.Name)
	}
	b.Value("DivisionName", nil)
	if c.Division != nil {
		b.Value("DivisionName", c.Division.Name)
		b.Func("GetDivisionAttribute", attributeReader(c.Division.Attributes))
	}
	b.Value("EmployeeIdentifier", nil)
	if c.Employee != nil {
		b.Value("EmployeeIdentifier", c.Employee.Identifier)
		b.Func("GetEmployeeAttribute", attributeReader(c.Employee.Attributes))
	}
	if c.Job != nil {
		b.Value("PayrunJobName", c.Job.Name)
		b.Value("Forecast", c.Job.Forecast)
		b.Value("IsRetroPayrun", c.Job.IsRetro())
		b.Value("RetroPayMode", string(c.Job.RetroPayMode))
		b.Value("CycleStart", dateValue(c.Job.Cycle.Start))
		b.Value("CycleEnd", dateValue(c.Job.Cycle.End))
	}
}

func dateValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return scripting.FormatDate(t)
}

func attributeReader(attributes map[string]interface{}) Func {
	return func(_ context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		return attributes[name], nil
	}
}

// Attributes are the free form attributes of a script owner. Scripts read
// and write them; writes are visible to later scripts of the same owner.
type Attributes struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewAttributes copies the initial attributes.
func NewAttributes(initial map[string]interface{}) *Attributes {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Attributes{values: values}
}

// Get returns an attribute.
func (a *Attributes) Get(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[name]
	return v, ok
}

// Set writes an attribute; nil removes it.
func (a *Attributes) Set(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.values, name)
		return
	}
	a.values[name] = value
}

// Map returns a copy of all attributes, nil when empty.
func (a *Attributes) Map() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.values) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

type ownerAttributes struct {
	attributes *Attributes
}

func (o ownerAttributes) Bind(b *Bindings) {
	b.Func("GetAttribute", func(_ context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		v, _ := o.attributes.Get(name)
		return v, nil
	})
	b.Func("SetAttribute", func(_ context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		v, _ := args.Raw(1, "value")
		o.attributes.Set(name, v)
		return nil, nil
	})
}

// logs binds AddLog. Entries go to the log sink and the process log.
type logs struct{}

func (logs) Bind(b *Bindings) {
	c := b.Context
	b.Func("AddLog", func(ctx context.Context, args Args) (any, error) {
		message, err := args.String(0, "message")
		if err != nil {
			return nil, err
		}
		level, err := args.OptString(1, "level", string(engine.LogLevelInformation))
		if err != nil {
			return nil, err
		}
		errText, err := args.OptString(2, "error", "")
		if err != nil {
			return nil, err
		}
		comment, err := args.OptString(3, "comment", "")
		if err != nil {
			return nil, err
		}

		entry := &engine.LogEntry{
			ID:       uuid.NewString(),
			TenantID: c.tenantID(),
			Level:    engine.LogLevel(level),
			Message:  message,
			Error:    errText,
			Comment:  comment,
			Owner:    b.Object,
			Created:  c.now(),
		}
		c.Logger.Debug().
			Str("owner", entry.Owner).
			Str("level", level).
			Msg(message)

		if c.Logs == nil {
			return nil, nil
		}
		if err := c.Logs.AddLog(ctx, entry); err != nil {
			return nil, engine.NewInfrastructureError("failed to add log entry", err).
				WithCode(engine.ErrCodeStore)
		}
		return nil, nil
	})
}

// tasks binds AddTask.
type tasks struct{}

func (tasks) Bind(b *Bindings) {
	c := b.Context
	b.Func("AddTask", func(ctx context.Context, args Args) (any, error) {
		name, err := args.String(0, "name")
		if err != nil {
			return nil, err
		}
		instruction, err := args.OptString(1, "instruction", "")
		if err != nil {
			return nil, err
		}
		scheduled, err := args.OptDate(2, "scheduled", c.Moment())
		if err != nil {
			return nil, err
		}
		category, err := args.OptString(3, "category", "")
		if err != nil {
			return nil, err
		}

		if c.Tasks == nil {
			return nil, engine.NewContractError("tasks are not available", nil)
		}
		task := &engine.Task{
			ID:          uuid.NewString(),
			TenantID:    c.tenantID(),
			EmployeeID:  c.employeeID(),
			Name:        name,
			Instruction: instruction,
			Scheduled:   scheduled,
			Category:    category,
			Created:     c.now(),
		}
		if err := c.Tasks.AddTask(ctx, task); err != nil {
			return nil, engine.NewInfrastructureError("failed to add task", err).
				WithCode(engine.ErrCodeStore)
		}
		return task.ID, nil
	})
}

// webhooks binds InvokeWebhook, an untracked request/response call. Delivery
// failures are logged and yield an empty response.
type webhooks struct{}

func (webhooks) Bind(b *Bindings) {
	c := b.Context
	b.Func("InvokeWebhook", func(ctx context.Context, args Args) (any, error) {
		body, err := args.String(0, "requestBody")
		if err != nil {
			return nil, err
		}
		operation, err := args.OptString(1, "operation", "")
		if err != nil {
			return nil, err
		}
		if c.Webhooks == nil {
			return "", nil
		}

		message := engine.WebhookMessage{
			ID:          uuid.NewString(),
			TenantID:    c.tenantID(),
			Action:      webhookAction(b.FunctionType),
			RequestBody: body,
			Operation:   operation,
			Created:     c.now(),
		}
		response, err := c.Webhooks.Invoke(ctx, message)
		if err != nil {
			c.Logger.Warn().
				Err(err).
				Str("action", string(message.Action)).
				Str("operation", operation).
				Msg("Webhook invoke failed")
			return "", nil
		}
		return response, nil
	})
}

func webhookAction(functionType engine.FunctionType) engine.WebhookAction {
	switch functionType {
	case engine.FunctionCaseAvailable, engine.FunctionCaseBuild, engine.FunctionCaseValidate,
		engine.FunctionCaseRelationBuild, engine.FunctionCaseRelationValidate:
		return engine.WebhookActionCaseFunction
	case engine.FunctionReportStart, engine.FunctionReportBuild, engine.FunctionReportEnd:
		return engine.WebhookActionReportFunction
	}
	return engine.WebhookActionPayrunFunction
}

// calendarCapability binds period and workday queries of the resolved calendar.
type calendarCapability struct{}

func (calendarCapability) Bind(b *Bindings) {
	cal := b.Context.Calendar
	moment := b.Context.Moment()

	b.Value("CalendarName", cal.Calendar().Name)
	b.Func("GetPeriod", func(_ context.Context, args Args) (any, error) {
		date, err := args.OptDate(0, "date", moment)
		if err != nil {
			return nil, err
		}
		offset, err := args.OptInt(1, "offset", 0)
		if err != nil {
			return nil, err
		}
		period, err := cal.OffsetPeriod(date, offset)
		if err != nil {
			return nil, err
		}
		return periodValue(period), nil
	})
	b.Func("GetCycle", func(_ context.Context, args Args) (any, error) {
		date, err := args.OptDate(0, "date", moment)
		if err != nil {
			return nil, err
		}
		offset, err := args.OptInt(1, "offset", 0)
		if err != nil {
			return nil, err
		}
		return periodValue(cal.OffsetCycle(date, offset)), nil
	})
	b.Func("IsWorkday", func(_ context.Context, args Args) (any, error) {
		date, err := args.Date(0, "date")
		if err != nil {
			return nil, err
		}
		return cal.IsWorkday(date), nil
	})
	b.Func("DayCount", func(_ context.Context, args Args) (any, error) {
		period, err := periodArgs(args, b.Context.Period)
		if err != nil {
			return nil, err
		}
		return cal.DayCount(period), nil
	})
	b.Func("WorkdayCount", func(_ context.Context, args Args) (any, error) {
		period, err := periodArgs(args, b.Context.Period)
		if err != nil {
			return nil, err
		}
		return cal.WorkdayCount(period), nil
	})
	b.Func("PreviousWorkdays", func(_ context.Context, args Args) (any, error) {
		date, err := args.Date(0, "date")
		if err != nil {
			return nil, err
		}
		count, err := args.OptInt(1, "count", 1)
		if err != nil {
			return nil, err
		}
		days, err := cal.PreviousWorkdays(date, count)
		if err != nil {
			return nil, err
		}
		return dateList(days), nil
	})
	b.Func("NextWorkdays", func(_ context.Context, args Args) (any, error) {
		date, err := args.Date(0, "date")
		if err != nil {
			return nil, err
		}
		count, err := args.OptInt(1, "count", 1)
		if err != nil {
			return nil, err
		}
		days, err := cal.NextWorkdays(date, count)
		if err != nil {
			return nil, err
		}
		return dateList(days), nil
	})
}

// periodArgs reads start and end, defaulting to the context period.
func periodArgs(args Args, def engine.DatePeriod) (engine.DatePeriod, error) {
	start, err := args.OptDate(0, "start", def.Start)
	if err != nil {
		return engine.DatePeriod{}, err
	}
	end, err := args.OptDate(1, "end", def.End)
	if err != nil {
		return engine.DatePeriod{}, err
	}
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return engine.DatePeriod{}, engine.NewContractError("a closed period is required", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return engine.DatePeriod{Start: start, End: end}, nil
}

func periodValue(p engine.DatePeriod) map[string]any {
	return map[string]any{
		"start": dateValue(p.Start),
		"end":   dateValue(p.End),
	}
}

func dateList(dates []time.Time) []any {
	out := make([]any, len(dates))
	for i, d := range dates {
		out[i] = scripting.FormatDate(d)
	}
	return out
}
