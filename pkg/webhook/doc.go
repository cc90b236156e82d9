// Package webhook delivers payroll webhook messages over HTTP.
//
// Tracked messages (job finish, retro requests) are queued and posted by a
// background worker; invoked messages are posted synchronously and return
// the response body to the calling script. Both share one rate limiter.
package webhook
