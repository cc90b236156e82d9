// Package calendar computes payroll cycles and periods.
//
// Periods are half-open [Start, End). Month based units are aligned to the
// cycle start (FirstMonthOfYear), week based units to the first weekday of
// the calendar or, when unset, of the culture's region.
package calendar
