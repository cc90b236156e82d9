package engine

import (
	"fmt"
	"time"
)

// DatePeriod is a half-open time range [Start, End).
// A zero Start or End is open on that side.
type DatePeriod struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether the moment is inside the period.
func (p DatePeriod) Contains(moment time.Time) bool {
	if !p.Start.IsZero() && moment.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && !moment.Before(p.End) {
		return false
	}
	return true
}

// Overlaps reports whether two periods share at least one instant.
func (p DatePeriod) Overlaps(other DatePeriod) bool {
	if !p.End.IsZero() && !other.Start.IsZero() && !other.Start.Before(p.End) {
		return false
	}
	if !other.End.IsZero() && !p.Start.IsZero() && !p.Start.Before(other.End) {
		return false
	}
	return true
}

// Duration returns the length of a closed period.
func (p DatePeriod) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

func (p DatePeriod) String() string {
	return fmt.Sprintf("[%s, %s)", p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

// TimeUnit is the length of a calendar cycle or period.
type TimeUnit string

const (
	TimeUnitYear          TimeUnit = "Year"
	TimeUnitSemiYear      TimeUnit = "SemiYear"
	TimeUnitQuarter       TimeUnit = "Quarter"
	TimeUnitBiMonth       TimeUnit = "BiMonth"
	TimeUnitCalendarMonth TimeUnit = "CalendarMonth"
	TimeUnitSemiMonth     TimeUnit = "SemiMonth"
	TimeUnitBiWeek        TimeUnit = "BiWeek"
	TimeUnitWeek          TimeUnit = "Week"
	TimeUnitDay           TimeUnit = "Day"
)

// Months returns the month length of month based units, or zero.
func (u TimeUnit) Months() int {
	switch u {
	case TimeUnitYear:
		return 12
	case TimeUnitSemiYear:
		return 6
	case TimeUnitQuarter:
		return 3
	case TimeUnitBiMonth:
		return 2
	case TimeUnitCalendarMonth:
		return 1
	}
	return 0
}

// Validate checks if the time unit is known.
func (u TimeUnit) Validate() error {
	switch u {
	case TimeUnitYear, TimeUnitSemiYear, TimeUnitQuarter, TimeUnitBiMonth,
		TimeUnitCalendarMonth, TimeUnitSemiMonth, TimeUnitBiWeek, TimeUnitWeek, TimeUnitDay:
		return nil
	}
	return fmt.Errorf("invalid time unit: %s", u)
}

// Calendar defines cycle and period boundaries and the working week.
type Calendar struct {
	ID       int64  `json:"id" yaml:"id"`
	TenantID int64  `json:"tenantId" yaml:"tenantId"`
	Name     string `json:"name" yaml:"name" validate:"required"`

	// CycleTimeUnit is the cycle length, a year.
	CycleTimeUnit TimeUnit `json:"cycleTimeUnit,omitempty" yaml:"cycleTimeUnit,omitempty"`

	// PeriodTimeUnit is the payroll period length.
	PeriodTimeUnit TimeUnit `json:"periodTimeUnit" yaml:"periodTimeUnit" validate:"required"`

	// FirstMonthOfYear starts the cycle, 1 (January) when unset.
	FirstMonthOfYear int `json:"firstMonthOfYear,omitempty" yaml:"firstMonthOfYear,omitempty" validate:"omitempty,min=1,max=12"`

	// FirstDayOfWeek overrides the culture's first weekday for week based periods.
	FirstDayOfWeek *time.Weekday `json:"firstDayOfWeek,omitempty" yaml:"firstDayOfWeek,omitempty"`

	// WorkDays lists the working weekdays, Monday to Friday when empty.
	WorkDays []time.Weekday `json:"workDays,omitempty" yaml:"workDays,omitempty"`
}
