package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/engine"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newCalc(t *testing.T, cal engine.Calendar, culture string) *Calculator {
	t.Helper()
	c, err := NewCalculator(cal, language.MustParse(culture))
	require.NoError(t, err)
	return c
}

func offsetPeriod(t *testing.T, c *Calculator, moment time.Time, count int) engine.DatePeriod {
	t.Helper()
	p, err := c.OffsetPeriod(moment, count)
	require.NoError(t, err)
	return p
}

func workdays(t *testing.T, days []time.Time, err error) []time.Time {
	t.Helper()
	require.NoError(t, err)
	return days
}

func TestPeriod_MonthBased(t *testing.T) {
	tests := []struct {
		name       string
		unit       engine.TimeUnit
		firstMonth int
		moment     time.Time
		want       engine.DatePeriod
	}{
		{"calendar month", engine.TimeUnitCalendarMonth, 1, date(2024, 3, 15),
			engine.DatePeriod{Start: date(2024, 3, 1), End: date(2024, 4, 1)}},
		{"quarter with shifted year", engine.TimeUnitQuarter, 4, date(2024, 2, 10),
			engine.DatePeriod{Start: date(2024, 1, 1), End: date(2024, 4, 1)}},
		{"semi year", engine.TimeUnitSemiYear, 1, date(2024, 8, 31),
			engine.DatePeriod{Start: date(2024, 7, 1), End: date(2025, 1, 1)}},
		{"bi month", engine.TimeUnitBiMonth, 1, date(2024, 4, 30),
			engine.DatePeriod{Start: date(2024, 3, 1), End: date(2024, 5, 1)}},
		{"year", engine.TimeUnitYear, 7, date(2024, 6, 30),
			engine.DatePeriod{Start: date(2023, 7, 1), End: date(2024, 7, 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCalc(t, engine.Calendar{PeriodTimeUnit: tt.unit, FirstMonthOfYear: tt.firstMonth}, "de-CH")
			assert.Equal(t, tt.want, c.Period(tt.moment))
		})
	}
}

func TestCycle_FirstMonthOfYear(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitCalendarMonth, FirstMonthOfYear: 4}, "de-CH")

	assert.Equal(t, engine.DatePeriod{Start: date(2023, 4, 1), End: date(2024, 4, 1)}, c.Cycle(date(2024, 2, 10)))
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 4, 1), End: date(2025, 4, 1)}, c.Cycle(date(2024, 4, 1)))
	assert.Equal(t, engine.DatePeriod{Start: date(2022, 4, 1), End: date(2023, 4, 1)}, c.OffsetCycle(date(2024, 2, 10), -1))
	assert.Len(t, c.PeriodsInCycle(date(2024, 2, 10)), 12)
}

func TestPeriod_SemiMonth(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitSemiMonth}, "de-CH")

	assert.Equal(t, engine.DatePeriod{Start: date(2024, 2, 1), End: date(2024, 2, 16)}, c.Period(date(2024, 2, 15)))
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 2, 16), End: date(2024, 3, 1)}, c.Period(date(2024, 2, 20)))
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 1, 16), End: date(2024, 2, 1)}, offsetPeriod(t, c, date(2024, 2, 3), -1))
}

func TestPeriod_WeekFollowsCulture(t *testing.T) {
	monday := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitWeek}, "de-CH")
	sunday := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitWeek}, "en-US")

	wednesday := date(2024, 3, 6)
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 3, 4), End: date(2024, 3, 11)}, monday.Period(wednesday))
	assert.Equal(t, engine.DatePeriod{Start: date(2024, 3, 3), End: date(2024, 3, 10)}, sunday.Period(wednesday))

	saturday := time.Saturday
	override := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitWeek, FirstDayOfWeek: &saturday}, "de-CH")
	assert.Equal(t, date(2024, 3, 2), override.Period(wednesday).Start)
}

func TestOffsetPeriod_Monthly(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitCalendarMonth}, "de-CH")

	assert.Equal(t, engine.DatePeriod{Start: date(2024, 2, 1), End: date(2024, 3, 1)}, offsetPeriod(t, c, date(2024, 3, 15), -1))
	assert.Equal(t, engine.DatePeriod{Start: date(2025, 1, 1), End: date(2025, 2, 1)}, offsetPeriod(t, c, date(2024, 3, 15), 10))
}

func TestWorkdays(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitCalendarMonth}, "de-CH")
	march := c.Period(date(2024, 3, 10))

	assert.Equal(t, 31, c.DayCount(march))
	assert.Equal(t, 21, c.WorkdayCount(march))
	assert.True(t, c.IsWorkday(date(2024, 3, 1)))
	assert.False(t, c.IsWorkday(date(2024, 3, 2)))
	next, err := c.NextWorkdays(date(2024, 3, 1), 2)
	assert.Equal(t, []time.Time{date(2024, 3, 4), date(2024, 3, 5)}, workdays(t, next, err))
	prev, err := c.PreviousWorkdays(date(2024, 3, 4), 1)
	assert.Equal(t, []time.Time{date(2024, 3, 1)}, workdays(t, prev, err))
}

func TestLimits(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitCalendarMonth}, "de-CH")

	_, err := c.OffsetPeriod(date(2024, 1, 1), 2000000000)
	require.Error(t, err)
	assert.True(t, engine.IsContractViolation(err))
	assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err))

	_, err = c.OffsetPeriod(date(2024, 1, 1), -MaxPeriodOffset-1)
	assert.Error(t, err)

	p := offsetPeriod(t, c, date(2024, 1, 1), MaxPeriodOffset)
	assert.Equal(t, date(2124, 1, 1), p.Start)

	_, err = c.NextWorkdays(date(2024, 1, 1), MaxWorkdays+1)
	assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err))
	_, err = c.PreviousWorkdays(date(2024, 1, 1), 1<<40)
	assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err))
	days, err := c.NextWorkdays(date(2024, 1, 1), MaxWorkdays)
	assert.Len(t, workdays(t, days, err), MaxWorkdays)
}

func TestWorkdayCount_LongPeriods(t *testing.T) {
	c := newCalc(t, engine.Calendar{PeriodTimeUnit: engine.TimeUnitCalendarMonth}, "de-CH")

	year := engine.DatePeriod{Start: date(2024, 1, 1), End: date(2025, 1, 1)}
	assert.Equal(t, 366, c.DayCount(year))
	assert.Equal(t, 262, c.WorkdayCount(year))

	span := engine.DatePeriod{Start: date(1, 1, 1), End: date(9999, 1, 1)}
	assert.Equal(t, 3651694, c.DayCount(span))
	assert.Greater(t, c.WorkdayCount(span), 2600000)
	assert.Zero(t, c.WorkdayCount(engine.DatePeriod{Start: date(2024, 2, 1), End: date(2024, 1, 1)}))
}

func TestNewCalculator_Invalid(t *testing.T) {
	_, err := NewCalculator(engine.Calendar{PeriodTimeUnit: "Fortnight"}, language.German)
	assert.Error(t, err)

	_, err = NewCalculator(engine.Calendar{FirstMonthOfYear: 13}, language.German)
	assert.Error(t, err)
}

func TestPeriodProperties(t *testing.T) {
	units := []engine.TimeUnit{
		engine.TimeUnitYear, engine.TimeUnitSemiYear, engine.TimeUnitQuarter, engine.TimeUnitBiMonth,
		engine.TimeUnitCalendarMonth, engine.TimeUnitSemiMonth, engine.TimeUnitBiWeek,
		engine.TimeUnitWeek, engine.TimeUnitDay,
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("period contains the moment and is followed seamlessly", prop.ForAll(
		func(offset int, unitIndex int, firstMonth int) bool {
			c, err := NewCalculator(engine.Calendar{
				PeriodTimeUnit:   units[unitIndex],
				FirstMonthOfYear: firstMonth,
			}, language.German)
			if err != nil {
				return false
			}
			moment := date(2000, 1, 1).AddDate(0, 0, offset)
			p := c.Period(moment)
			next, err := c.OffsetPeriod(moment, 1)
			if err != nil {
				return false
			}
			prev, err := c.OffsetPeriod(moment, -1)
			if err != nil {
				return false
			}
			return p.Contains(moment) &&
				p.Start.Before(p.End) &&
				next.Start.Equal(p.End) &&
				prev.End.Equal(p.Start)
		},
		gen.IntRange(-5000, 15000),
		gen.IntRange(0, len(units)-1),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

type calendarRepo map[string]*engine.Calendar

func (r calendarRepo) GetCalendarByName(_ context.Context, _ int64, name string) (*engine.Calendar, error) {
	if c, ok := r[name]; ok {
		return c, nil
	}
	return nil, engine.NewNotFoundError("calendar", name)
}

func TestResolver_Fallback(t *testing.T) {
	repo := calendarRepo{
		"Weekly":  {Name: "Weekly", PeriodTimeUnit: engine.TimeUnitWeek},
		"Monthly": {Name: "Monthly", PeriodTimeUnit: engine.TimeUnitCalendarMonth},
	}
	r := NewResolver(repo, engine.Calendar{})

	tenant := &engine.Tenant{ID: 1, Culture: "de-CH", Calendar: "Monthly"}
	division := &engine.Division{Culture: "fr-CH"}
	employee := &engine.Employee{Calendar: "Weekly"}

	assert.Equal(t, "fr-CH", r.Culture(tenant, division, employee).String())
	assert.Equal(t, "de-CH", r.Culture(tenant, nil, nil).String())
	assert.Equal(t, DefaultCulture, r.Culture(nil, nil, &engine.Employee{Culture: "not a culture!"}))

	calc, err := r.Calculator(context.Background(), tenant, division, employee)
	require.NoError(t, err)
	assert.Equal(t, engine.TimeUnitWeek, calc.Calendar().PeriodTimeUnit)

	calc, err = r.Calculator(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TimeUnitCalendarMonth, calc.Calendar().PeriodTimeUnit)

	_, err = r.Calculator(context.Background(), tenant, nil, &engine.Employee{Calendar: "Lunar"})
	require.Error(t, err)
	assert.True(t, engine.IsDomainViolation(err))
}
