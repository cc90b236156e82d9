// Package report executes the report scripts of a derived regulation set.
//
// Parameters are resolved from the report defaults and the request. The start
// script may adjust them and decline the report, the build script fills named
// tables from employees and stored results and the end script edits the
// tables in place. Rendering the data set is left to the caller.
package report
