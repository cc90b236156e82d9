package calendar

import (
	"fmt"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
	"golang.org/x/text/language"
)

var defaultWorkDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// Limits of the walks scripts can request.
const (
	// MaxPeriodOffset bounds the period count of OffsetPeriod.
	MaxPeriodOffset = 1200
	// MaxWorkdays bounds the day count of NextWorkdays and PreviousWorkdays.
	MaxWorkdays = 1000
)

// weekEpoch anchors bi-weekly periods; week indices are counted from the
// first configured weekday on or after it.
var weekEpoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Calculator computes cycles, periods and working days of a calendar.
// All functions are pure; dates are truncated to UTC days.
type Calculator struct {
	cal          engine.Calendar
	firstWeekday time.Weekday
	workDays     map[time.Weekday]bool
}

// NewCalculator creates a calculator for a calendar. The culture decides the
// first weekday unless the calendar sets one.
func NewCalculator(cal engine.Calendar, culture language.Tag) (*Calculator, error) {
	if cal.CycleTimeUnit == "" {
		cal.CycleTimeUnit = engine.TimeUnitYear
	}
	if cal.CycleTimeUnit != engine.TimeUnitYear {
		return nil, fmt.Errorf("unsupported cycle time unit: %s", cal.CycleTimeUnit)
	}
	if cal.PeriodTimeUnit == "" {
		cal.PeriodTimeUnit = engine.TimeUnitCalendarMonth
	}
	if err := cal.PeriodTimeUnit.Validate(); err != nil {
		return nil, err
	}
	if cal.FirstMonthOfYear == 0 {
		cal.FirstMonthOfYear = 1
	}
	if cal.FirstMonthOfYear < 1 || cal.FirstMonthOfYear > 12 {
		return nil, fmt.Errorf("invalid first month of year: %d", cal.FirstMonthOfYear)
	}

	first := FirstWeekday(culture)
	if cal.FirstDayOfWeek != nil {
		first = *cal.FirstDayOfWeek
	}

	days := cal.WorkDays
	if len(days) == 0 {
		days = defaultWorkDays
	}
	workDays := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		workDays[d] = true
	}

	return &Calculator{
		cal:          cal,
		firstWeekday: first,
		workDays:     workDays,
	}, nil
}

// Calendar returns the normalized calendar.
func (c *Calculator) Calendar() engine.Calendar {
	return c.cal
}

// FirstWeekday returns the effective first day of the week.
func (c *Calculator) FirstWeekday() time.Weekday {
	return c.firstWeekday
}

// Cycle returns the cycle containing the moment.
func (c *Calculator) Cycle(moment time.Time) engine.DatePeriod {
	d := day(moment)
	first := time.Month(c.cal.FirstMonthOfYear)
	year := d.Year()
	if d.Month() < first {
		year--
	}
	start := time.Date(year, first, 1, 0, 0, 0, 0, time.UTC)
	return engine.DatePeriod{Start: start, End: start.AddDate(1, 0, 0)}
}

// Period returns the payroll period containing the moment.
func (c *Calculator) Period(moment time.Time) engine.DatePeriod {
	d := day(moment)
	unit := c.cal.PeriodTimeUnit

	if months := unit.Months(); months > 0 {
		cycle := c.Cycle(d)
		elapsed := (d.Year()-cycle.Start.Year())*12 + int(d.Month()) - int(cycle.Start.Month())
		start := cycle.Start.AddDate(0, (elapsed/months)*months, 0)
		return engine.DatePeriod{Start: start, End: start.AddDate(0, months, 0)}
	}

	switch unit {
	case engine.TimeUnitSemiMonth:
		if d.Day() < 16 {
			start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
			return engine.DatePeriod{Start: start, End: start.AddDate(0, 0, 15)}
		}
		start := time.Date(d.Year(), d.Month(), 16, 0, 0, 0, 0, time.UTC)
		return engine.DatePeriod{Start: start, End: time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC)}
	case engine.TimeUnitWeek:
		start := c.weekStart(d)
		return engine.DatePeriod{Start: start, End: start.AddDate(0, 0, 7)}
	case engine.TimeUnitBiWeek:
		anchor := c.weekStart(weekEpoch)
		days := int(d.Sub(anchor).Hours() / 24)
		index := floorDiv(days, 14)
		start := anchor.AddDate(0, 0, index*14)
		return engine.DatePeriod{Start: start, End: start.AddDate(0, 0, 14)}
	default:
		return engine.DatePeriod{Start: d, End: d.AddDate(0, 0, 1)}
	}
}

// OffsetPeriod returns the period count periods after (or before, when
// negative) the period containing the moment.
func (c *Calculator) OffsetPeriod(moment time.Time, count int) (engine.DatePeriod, error) {
	if count > MaxPeriodOffset || count < -MaxPeriodOffset {
		return engine.DatePeriod{}, outOfRange("period offset", count, MaxPeriodOffset)
	}
	p := c.Period(moment)
	for ; count > 0; count-- {
		p = c.Period(p.End)
	}
	for ; count < 0; count++ {
		p = c.Period(p.Start.AddDate(0, 0, -1))
	}
	return p, nil
}

// OffsetCycle returns the cycle count cycles away from the one containing the moment.
func (c *Calculator) OffsetCycle(moment time.Time, count int) engine.DatePeriod {
	start := c.Cycle(moment).Start.AddDate(count, 0, 0)
	return engine.DatePeriod{Start: start, End: start.AddDate(1, 0, 0)}
}

// PeriodsInCycle returns all periods of the cycle containing the moment.
func (c *Calculator) PeriodsInCycle(moment time.Time) []engine.DatePeriod {
	cycle := c.Cycle(moment)
	var periods []engine.DatePeriod
	for p := c.Period(cycle.Start); p.Start.Before(cycle.End); p = c.Period(p.End) {
		periods = append(periods, p)
	}
	return periods
}

// IsWorkday reports whether the date is a working weekday.
func (c *Calculator) IsWorkday(date time.Time) bool {
	return c.workDays[date.Weekday()]
}

// PreviousWorkdays returns count working days before the date, nearest first.
func (c *Calculator) PreviousWorkdays(date time.Time, count int) ([]time.Time, error) {
	return c.walkWorkdays(day(date), count, -1)
}

// NextWorkdays returns count working days after the date, nearest first.
func (c *Calculator) NextWorkdays(date time.Time, count int) ([]time.Time, error) {
	return c.walkWorkdays(day(date), count, 1)
}

func (c *Calculator) walkWorkdays(from time.Time, count, step int) ([]time.Time, error) {
	if count > MaxWorkdays {
		return nil, outOfRange("workday count", count, MaxWorkdays)
	}
	if count <= 0 || len(c.workDays) == 0 {
		return nil, nil
	}
	days := make([]time.Time, 0, count)
	for d := from.AddDate(0, 0, step); len(days) < count; d = d.AddDate(0, 0, step) {
		if c.IsWorkday(d) {
			days = append(days, d)
		}
	}
	return days, nil
}

// DayCount returns the number of days in the period.
func (c *Calculator) DayCount(period engine.DatePeriod) int {
	return daysBetween(day(period.Start), day(period.End))
}

// WorkdayCount returns the number of working days in the period. Full weeks
// are counted at once.
func (c *Calculator) WorkdayCount(period engine.DatePeriod) int {
	start, end := day(period.Start), day(period.End)
	days := daysBetween(start, end)
	if days <= 0 {
		return 0
	}
	weeks := days / 7
	count := weeks * len(c.workDays)
	for d := start.AddDate(0, 0, weeks*7); d.Before(end); d = d.AddDate(0, 0, 1) {
		if c.IsWorkday(d) {
			count++
		}
	}
	return count
}

// daysBetween counts whole days without the duration range limit of Sub.
func daysBetween(start, end time.Time) int {
	return int((end.Unix() - start.Unix()) / 86400)
}

func outOfRange(what string, count, limit int) error {
	return engine.NewContractError(fmt.Sprintf("%s %d exceeds the limit of %d", what, count, limit), nil).
		WithCode(engine.ErrCodeOutOfRange)
}

func (c *Calculator) weekStart(d time.Time) time.Time {
	shift := (int(d.Weekday()) - int(c.firstWeekday) + 7) % 7
	return day(d).AddDate(0, 0, -shift)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
