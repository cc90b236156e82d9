// Package payrun computes payroll results.
//
// A Processor runs one payrun job: it derives the regulations of the
// payroll at the regulation date, selects the active employees of the
// payroll division and evaluates them in parallel. Each Evaluator walks the
// wage types in number order; a wage type value feeds the collectors it is
// assigned to, and later wage types read those collectors.
//
// Job status moves Draft, Process, then Complete or Forecast. Any employee
// failure aborts the job and no result of it is stored.
//
//	proc := payrun.NewProcessor(payrun.Dependencies{...}, payrun.DefaultOptions(), logger)
//	res, err := proc.Run(ctx, payrun.JobRequest{
//		TenantID:   tenant.ID,
//		PayrunName: "Monthly",
//		PeriodDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
//	})
//
// Scripts may schedule retro jobs for earlier periods. Retro requests are
// scoped to the job that raised them and returned in the JobResult.
package payrun
