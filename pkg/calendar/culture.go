package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
	"golang.org/x/text/language"
)

// DefaultCulture is used when neither employee, division nor tenant set one.
var DefaultCulture = language.AmericanEnglish

// sundayFirstRegions start the week on Sunday; every other region on Monday.
var sundayFirstRegions = map[string]bool{
	"US": true, "CA": true, "MX": true, "BR": true, "JP": true, "KR": true,
	"TW": true, "HK": true, "IL": true, "IN": true, "PH": true, "ZA": true,
	"SA": true, "PE": true, "CO": true, "GT": true,
}

// FirstWeekday returns the conventional first weekday of the culture's region.
func FirstWeekday(culture language.Tag) time.Weekday {
	region, _ := culture.Region()
	if sundayFirstRegions[region.String()] {
		return time.Sunday
	}
	return time.Monday
}

// ParseCulture canonicalizes a culture name. Empty or invalid names return false.
func ParseCulture(name string) (language.Tag, bool) {
	if name == "" {
		return language.Und, false
	}
	tag, err := language.Parse(name)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

// Resolver picks the culture and calendar of an evaluation from the
// employee, division and tenant settings, first non-empty wins.
type Resolver struct {
	calendars       engine.CalendarRepository
	defaultCalendar engine.Calendar
}

// NewResolver creates a resolver. The default calendar applies when no
// level names one.
func NewResolver(calendars engine.CalendarRepository, defaultCalendar engine.Calendar) *Resolver {
	if defaultCalendar.PeriodTimeUnit == "" {
		defaultCalendar.PeriodTimeUnit = engine.TimeUnitCalendarMonth
	}
	if defaultCalendar.Name == "" {
		defaultCalendar.Name = "Default"
	}
	return &Resolver{
		calendars:       calendars,
		defaultCalendar: defaultCalendar,
	}
}

// Culture resolves the culture: employee, then division, then tenant.
func (r *Resolver) Culture(tenant *engine.Tenant, division *engine.Division, employee *engine.Employee) language.Tag {
	var names []string
	if employee != nil {
		names = append(names, employee.Culture)
	}
	if division != nil {
		names = append(names, division.Culture)
	}
	if tenant != nil {
		names = append(names, tenant.Culture)
	}
	for _, name := range names {
		if tag, ok := ParseCulture(name); ok {
			return tag
		}
	}
	return DefaultCulture
}

// CalendarName resolves the calendar name: employee, then division, then tenant.
func (r *Resolver) CalendarName(tenant *engine.Tenant, division *engine.Division, employee *engine.Employee) string {
	switch {
	case employee != nil && employee.Calendar != "":
		return employee.Calendar
	case division != nil && division.Calendar != "":
		return division.Calendar
	case tenant != nil && tenant.Calendar != "":
		return tenant.Calendar
	}
	return ""
}

// Calculator builds the calculator for the resolved calendar and culture.
// A named calendar missing from the repository is a domain error.
func (r *Resolver) Calculator(ctx context.Context, tenant *engine.Tenant, division *engine.Division, employee *engine.Employee) (*Calculator, error) {
	culture := r.Culture(tenant, division, employee)

	name := r.CalendarName(tenant, division, employee)
	if name == "" {
		return NewCalculator(r.defaultCalendar, culture)
	}

	var tenantID int64
	if tenant != nil {
		tenantID = tenant.ID
	}
	cal, err := r.calendars.GetCalendarByName(ctx, tenantID, name)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, engine.NewDomainError(fmt.Sprintf("unknown calendar %s", name), err).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to load calendar %s: %w", name, err)
	}
	return NewCalculator(*cal, culture)
}
