// Package stores provides the persistence layer of the payroll runtime.
// SQLiteStore keeps tenants, regulations, case values, payrun jobs and
// results in SQLite with embedded migrations; MemoryStore implements the
// same Store interface in process for tests and one-shot runs.
package stores
