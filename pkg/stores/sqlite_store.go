package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/payroll/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on SQLite. Objects are stored as JSON
// documents next to the columns the queries filter on.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	BusyTimeout     time.Duration `yaml:"busyTimeout"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection with foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		s.path, s.cfg.BusyTimeout.Milliseconds())
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has one writer; an in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func storeError(op string, err error) error {
	return engine.NewInfrastructureError("failed to "+op, err).WithCode(engine.ErrCodeStore)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(b), nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) insert(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, engine.NewContractError("failed to "+op, err).WithCode(engine.ErrCodeConflict)
		}
		return 0, storeError(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeError(op, err)
	}
	return id, nil
}

// getOne reads one (id, body) row into a new T.
func getOne[T any](ctx context.Context, db *sql.DB, kind string, key any, setID func(*T, int64), query string, args ...any) (*T, error) {
	var (
		id   int64
		body string
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError(kind, key)
	}
	if err != nil {
		return nil, storeError("get "+kind, err)
	}
	v := new(T)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return nil, storeError("decode "+kind, err)
	}
	setID(v, id)
	return v, nil
}

// listAll reads (id, body) rows into new Ts.
func listAll[T any](ctx context.Context, db *sql.DB, kind string, setID func(*T, int64), query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list "+kind, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, storeError("scan "+kind, err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(body), v); err != nil {
			return nil, storeError("decode "+kind, err)
		}
		setID(v, id)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate "+kind, err)
	}
	return out, nil
}

func stamped(t *time.Time) time.Time {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
	return *t
}

// CreateTenant adds a tenant.
func (s *SQLiteStore) CreateTenant(ctx context.Context, tenant *engine.Tenant) error {
	created := stamped(&tenant.Created)
	body, err := encode(tenant)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create tenant",
		`INSERT INTO tenants (identifier, body, created) VALUES (?, ?, ?)`,
		tenant.Identifier, body, timestamp(created))
	if err != nil {
		return err
	}
	tenant.ID = id
	return nil
}

func setTenantID(t *engine.Tenant, id int64) { t.ID = id }

// GetTenant returns a tenant by ID.
func (s *SQLiteStore) GetTenant(ctx context.Context, id int64) (*engine.Tenant, error) {
	return getOne(ctx, s.db, "tenant", id, setTenantID,
		`SELECT id, body FROM tenants WHERE id = ?`, id)
}

// GetTenantByIdentifier returns a tenant by its identifier.
func (s *SQLiteStore) GetTenantByIdentifier(ctx context.Context, identifier string) (*engine.Tenant, error) {
	return getOne(ctx, s.db, "tenant", identifier, setTenantID,
		`SELECT id, body FROM tenants WHERE identifier = ?`, identifier)
}

// CreateDivision adds a division.
func (s *SQLiteStore) CreateDivision(ctx context.Context, division *engine.Division) error {
	created := stamped(&division.Created)
	body, err := encode(division)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create division",
		`INSERT INTO divisions (tenant_id, name, body, created) VALUES (?, ?, ?, ?)`,
		division.TenantID, division.Name, body, timestamp(created))
	if err != nil {
		return err
	}
	division.ID = id
	return nil
}

func setDivisionID(d *engine.Division, id int64) { d.ID = id }

// GetDivision returns a division by ID.
func (s *SQLiteStore) GetDivision(ctx context.Context, tenantID, id int64) (*engine.Division, error) {
	return getOne(ctx, s.db, "division", id, setDivisionID,
		`SELECT id, body FROM divisions WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// GetDivisionByName returns a division by name.
func (s *SQLiteStore) GetDivisionByName(ctx context.Context, tenantID int64, name string) (*engine.Division, error) {
	return getOne(ctx, s.db, "division", name, setDivisionID,
		`SELECT id, body FROM divisions WHERE tenant_id = ? AND name = ?`, tenantID, name)
}

// CreateEmployee adds an employee.
func (s *SQLiteStore) CreateEmployee(ctx context.Context, employee *engine.Employee) error {
	created := stamped(&employee.Created)
	if employee.Status == "" {
		employee.Status = engine.StatusActive
	}
	body, err := encode(employee)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create employee",
		`INSERT INTO employees (tenant_id, identifier, status, body, created) VALUES (?, ?, ?, ?, ?)`,
		employee.TenantID, employee.Identifier, string(employee.Status), body, timestamp(created))
	if err != nil {
		return err
	}
	employee.ID = id
	return nil
}

func setEmployeeID(e *engine.Employee, id int64) { e.ID = id }

// GetEmployee returns an employee by ID.
func (s *SQLiteStore) GetEmployee(ctx context.Context, tenantID, id int64) (*engine.Employee, error) {
	return getOne(ctx, s.db, "employee", id, setEmployeeID,
		`SELECT id, body FROM employees WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// ListEmployees lists the employees of a tenant.
func (s *SQLiteStore) ListEmployees(ctx context.Context, tenantID int64, query engine.Query) ([]*engine.Employee, error) {
	q := `SELECT id, body FROM employees WHERE tenant_id = ?`
	args := []any{tenantID}
	if query.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(query.Status))
	}
	q, args = pageClause(q, args, query, map[string]string{"name": "identifier", "created": "created"})
	return listAll(ctx, s.db, "employee", setEmployeeID, q, args...)
}

// pageClause appends ordering and paging to a list query.
func pageClause(q string, args []any, query engine.Query, columns map[string]string) (string, []any) {
	order := "id"
	if col, ok := columns[strings.ToLower(query.OrderBy)]; ok {
		order = col + ", id"
	}
	q += " ORDER BY " + order
	if query.Top > 0 || query.Skip > 0 {
		limit := query.Top
		if limit <= 0 {
			limit = -1
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, query.Skip)
	}
	return q, args
}

// CreateCalendar adds a calendar.
func (s *SQLiteStore) CreateCalendar(ctx context.Context, calendar *engine.Calendar) error {
	body, err := encode(calendar)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create calendar",
		`INSERT INTO calendars (tenant_id, name, body) VALUES (?, ?, ?)`,
		calendar.TenantID, calendar.Name, body)
	if err != nil {
		return err
	}
	calendar.ID = id
	return nil
}

// GetCalendarByName returns a calendar by name.
func (s *SQLiteStore) GetCalendarByName(ctx context.Context, tenantID int64, name string) (*engine.Calendar, error) {
	return getOne(ctx, s.db, "calendar", name, func(c *engine.Calendar, id int64) { c.ID = id },
		`SELECT id, body FROM calendars WHERE tenant_id = ? AND name = ?`, tenantID, name)
}

// CreateRegulation adds a regulation.
func (s *SQLiteStore) CreateRegulation(ctx context.Context, regulation *engine.Regulation) error {
	created := stamped(&regulation.Created)
	body, err := encode(regulation)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create regulation",
		`INSERT INTO regulations (tenant_id, name, body, created) VALUES (?, ?, ?, ?)`,
		regulation.TenantID, regulation.Name, body, timestamp(created))
	if err != nil {
		return err
	}
	regulation.ID = id
	return nil
}

func setRegulationID(r *engine.Regulation, id int64) { r.ID = id }

// GetRegulation returns a regulation by ID.
func (s *SQLiteStore) GetRegulation(ctx context.Context, tenantID, id int64) (*engine.Regulation, error) {
	return getOne(ctx, s.db, "regulation", id, setRegulationID,
		`SELECT id, body FROM regulations WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// GetRegulationByName returns a regulation by name.
func (s *SQLiteStore) GetRegulationByName(ctx context.Context, tenantID int64, name string) (*engine.Regulation, error) {
	return getOne(ctx, s.db, "regulation", name, setRegulationID,
		`SELECT id, body FROM regulations WHERE tenant_id = ? AND name = ?`, tenantID, name)
}

// AddRegulationObjects appends object versions to a regulation in one
// transaction.
func (s *SQLiteStore) AddRegulationObjects(ctx context.Context, regulationID int64, objects *engine.RegulationObjects) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var firstErr error
	objects.Each(func(kind engine.ObjectKind, obj engine.Derivable) {
		if firstErr != nil {
			return
		}
		meta := obj.Meta()
		meta.RegulationID = regulationID
		created := stamped(&meta.Created)
		body, err := encode(obj)
		if err != nil {
			firstErr = err
			return
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO regulation_objects (regulation_id, kind, object_key, body, created) VALUES (?, ?, ?, ?, ?)`,
			regulationID, string(kind), obj.Key(), body, timestamp(created))
		if err != nil {
			firstErr = storeError("add regulation object "+obj.Key(), err)
			return
		}
		if meta.ID, err = res.LastInsertId(); err != nil {
			firstErr = storeError("add regulation object "+obj.Key(), err)
		}
	})
	if firstErr != nil {
		return firstErr
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit regulation objects", err)
	}
	return nil
}

// GetRegulationObjects returns every object version of a regulation.
func (s *SQLiteStore) GetRegulationObjects(ctx context.Context, tenantID, regulationID int64) (*engine.RegulationObjects, error) {
	if _, err := s.GetRegulation(ctx, tenantID, regulationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, body FROM regulation_objects WHERE regulation_id = ? ORDER BY id`, regulationID)
	if err != nil {
		return nil, storeError("list regulation objects", err)
	}
	defer rows.Close()

	objects := &engine.RegulationObjects{}
	for rows.Next() {
		var (
			id   int64
			kind string
			body string
		)
		if err := rows.Scan(&id, &kind, &body); err != nil {
			return nil, storeError("scan regulation object", err)
		}
		if err := decodeObject(objects, engine.ObjectKind(kind), id, []byte(body)); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate regulation objects", err)
	}
	return objects, nil
}

func decodeObject(objects *engine.RegulationObjects, kind engine.ObjectKind, id int64, body []byte) error {
	var obj engine.Derivable
	switch kind {
	case engine.KindCase:
		v := &engine.Case{}
		objects.Cases, obj = append(objects.Cases, v), v
	case engine.KindCaseField:
		v := &engine.CaseField{}
		objects.CaseFields, obj = append(objects.CaseFields, v), v
	case engine.KindCaseRelation:
		v := &engine.CaseRelation{}
		objects.CaseRelations, obj = append(objects.CaseRelations, v), v
	case engine.KindCollector:
		v := &engine.Collector{}
		objects.Collectors, obj = append(objects.Collectors, v), v
	case engine.KindWageType:
		v := &engine.WageType{}
		objects.WageTypes, obj = append(objects.WageTypes, v), v
	case engine.KindLookup:
		v := &engine.Lookup{}
		objects.Lookups, obj = append(objects.Lookups, v), v
	case engine.KindReport:
		v := &engine.Report{}
		objects.Reports, obj = append(objects.Reports, v), v
	case engine.KindScript:
		v := &engine.Script{}
		objects.Scripts, obj = append(objects.Scripts, v), v
	default:
		return storeError("decode regulation object", fmt.Errorf("unknown object kind %q", kind))
	}
	if err := json.Unmarshal(body, obj); err != nil {
		return storeError("decode regulation object", err)
	}
	obj.Meta().ID = id
	return nil
}

// CreateRegulationShare adds a share grant.
func (s *SQLiteStore) CreateRegulationShare(ctx context.Context, share *engine.RegulationShare) error {
	created := stamped(&share.Created)
	id, err := s.insert(ctx, "create regulation share",
		`INSERT INTO regulation_shares (provider_tenant_id, provider_regulation_id, consumer_tenant_id, consumer_division_id, created)
		 VALUES (?, ?, ?, ?, ?)`,
		share.ProviderTenantID, share.ProviderRegulationID, share.ConsumerTenantID, share.ConsumerDivisionID, timestamp(created))
	if err != nil {
		return err
	}
	share.ID = id
	return nil
}

// ListRegulationShares returns the grants of a shared regulation.
func (s *SQLiteStore) ListRegulationShares(ctx context.Context, providerTenantID, providerRegulationID int64) ([]*engine.RegulationShare, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, consumer_tenant_id, consumer_division_id, created FROM regulation_shares
		 WHERE provider_tenant_id = ? AND provider_regulation_id = ? ORDER BY id`,
		providerTenantID, providerRegulationID)
	if err != nil {
		return nil, storeError("list regulation shares", err)
	}
	defer rows.Close()

	var out []*engine.RegulationShare
	for rows.Next() {
		share := &engine.RegulationShare{
			ProviderTenantID:     providerTenantID,
			ProviderRegulationID: providerRegulationID,
		}
		var created string
		if err := rows.Scan(&share.ID, &share.ConsumerTenantID, &share.ConsumerDivisionID, &created); err != nil {
			return nil, storeError("scan regulation share", err)
		}
		if share.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, storeError("decode regulation share", err)
		}
		out = append(out, share)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate regulation shares", err)
	}
	return out, nil
}

// CreatePayroll adds a payroll.
func (s *SQLiteStore) CreatePayroll(ctx context.Context, payroll *engine.Payroll) error {
	stamped(&payroll.Created)
	body, err := encode(payroll)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create payroll",
		`INSERT INTO payrolls (tenant_id, name, body) VALUES (?, ?, ?)`,
		payroll.TenantID, payroll.Name, body)
	if err != nil {
		return err
	}
	payroll.ID = id
	return nil
}

func setPayrollID(p *engine.Payroll, id int64) { p.ID = id }

// GetPayroll returns a payroll by ID.
func (s *SQLiteStore) GetPayroll(ctx context.Context, tenantID, id int64) (*engine.Payroll, error) {
	return getOne(ctx, s.db, "payroll", id, setPayrollID,
		`SELECT id, body FROM payrolls WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// GetPayrollByName returns a payroll by name.
func (s *SQLiteStore) GetPayrollByName(ctx context.Context, tenantID int64, name string) (*engine.Payroll, error) {
	return getOne(ctx, s.db, "payroll", name, setPayrollID,
		`SELECT id, body FROM payrolls WHERE tenant_id = ? AND name = ?`, tenantID, name)
}

// CreatePayrun adds a payrun.
func (s *SQLiteStore) CreatePayrun(ctx context.Context, payrun *engine.Payrun) error {
	stamped(&payrun.Created)
	body, err := encode(payrun)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create payrun",
		`INSERT INTO payruns (tenant_id, name, body) VALUES (?, ?, ?)`,
		payrun.TenantID, payrun.Name, body)
	if err != nil {
		return err
	}
	payrun.ID = id
	return nil
}

// GetPayrunByName returns a payrun by name.
func (s *SQLiteStore) GetPayrunByName(ctx context.Context, tenantID int64, name string) (*engine.Payrun, error) {
	return getOne(ctx, s.db, "payrun", name, func(p *engine.Payrun, id int64) { p.ID = id },
		`SELECT id, body FROM payruns WHERE tenant_id = ? AND name = ?`, tenantID, name)
}

// AddCaseValue appends a case value.
func (s *SQLiteStore) AddCaseValue(ctx context.Context, value *engine.CaseValue) error {
	stamped(&value.Created)
	body, err := encode(value)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "add case value",
		`INSERT INTO case_values (tier, tenant_id, employee_id, division_id, case_field_name, case_slot, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(value.Tier), value.TenantID, value.EmployeeID, value.DivisionID, value.CaseFieldName, value.CaseSlot, body)
	if err != nil {
		return err
	}
	value.ID = id
	return nil
}

// ListCaseValues returns the case values of one tier in insertion order.
func (s *SQLiteStore) ListCaseValues(ctx context.Context, query engine.CaseValueQuery) ([]*engine.CaseValue, error) {
	q := `SELECT id, body FROM case_values WHERE tier = ? AND tenant_id = ?`
	args := []any{string(query.Tier), query.TenantID}
	switch query.Tier {
	case engine.TierEmployee:
		q += ` AND employee_id = ?`
		args = append(args, query.EmployeeID)
	case engine.TierCompany:
		q += ` AND division_id = ?`
		args = append(args, query.DivisionID)
	}
	if query.CaseFieldName != "" {
		q += ` AND case_field_name = ?`
		args = append(args, query.CaseFieldName)
	}
	if query.CaseSlot != nil {
		q += ` AND case_slot = ?`
		args = append(args, *query.CaseSlot)
	}
	q += ` ORDER BY id`
	return listAll(ctx, s.db, "case value", func(v *engine.CaseValue, id int64) { v.ID = id }, q, args...)
}

// CreatePayrunJob adds a payrun job.
func (s *SQLiteStore) CreatePayrunJob(ctx context.Context, job *engine.PayrunJob) error {
	stamped(&job.Created)
	body, err := encode(job)
	if err != nil {
		return err
	}
	id, err := s.insert(ctx, "create payrun job",
		`INSERT INTO payrun_jobs (tenant_id, name, job_status, body) VALUES (?, ?, ?, ?)`,
		job.TenantID, job.Name, string(job.JobStatus), body)
	if err != nil {
		return err
	}
	job.ID = id
	return nil
}

// GetPayrunJob returns a payrun job by ID.
func (s *SQLiteStore) GetPayrunJob(ctx context.Context, tenantID, id int64) (*engine.PayrunJob, error) {
	var (
		status string
		body   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_status, body FROM payrun_jobs WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&status, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("payrun job", id)
	}
	if err != nil {
		return nil, storeError("get payrun job", err)
	}
	return decodeJob(id, status, body)
}

func decodeJob(id int64, status, body string) (*engine.PayrunJob, error) {
	job := &engine.PayrunJob{}
	if err := json.Unmarshal([]byte(body), job); err != nil {
		return nil, storeError("decode payrun job", err)
	}
	job.ID = id
	job.JobStatus = engine.JobStatus(status)
	return job, nil
}

// UpdatePayrunJobStatus sets the status of a payrun job.
func (s *SQLiteStore) UpdatePayrunJobStatus(ctx context.Context, tenantID, id int64, status engine.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payrun_jobs SET job_status = ? WHERE tenant_id = ? AND id = ?`, string(status), tenantID, id)
	if err != nil {
		return storeError("update payrun job status", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storeError("update payrun job status", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("payrun job", id)
	}
	return nil
}

// ListPayrunJobs lists the payrun jobs of a tenant.
func (s *SQLiteStore) ListPayrunJobs(ctx context.Context, tenantID int64, query engine.Query) ([]*engine.PayrunJob, error) {
	q, args := pageClause(`SELECT id, job_status, body FROM payrun_jobs WHERE tenant_id = ?`,
		[]any{tenantID}, query, map[string]string{"name": "name"})
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeError("list payrun jobs", err)
	}
	defer rows.Close()

	var out []*engine.PayrunJob
	for rows.Next() {
		var (
			id           int64
			status, body string
		)
		if err := rows.Scan(&id, &status, &body); err != nil {
			return nil, storeError("scan payrun job", err)
		}
		job, err := decodeJob(id, status, body)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate payrun jobs", err)
	}
	return out, nil
}

// Result row kinds.
const (
	rowCollector       = "collector"
	rowCollectorCustom = "collector_custom"
	rowWageType        = "wagetype"
	rowWageTypeCustom  = "wagetype_custom"
	rowPayrun          = "payrun"
)

// SavePayrollResults stores the results of employees in one transaction.
func (s *SQLiteStore) SavePayrollResults(ctx context.Context, results ...*engine.PayrollResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, result := range results {
		if err := saveResult(ctx, tx, result); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit payroll results", err)
	}
	return nil
}

func saveResult(ctx context.Context, tx *sql.Tx, result *engine.PayrollResult) error {
	created := stamped(&result.Created)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payroll_results (tenant_id, employee_id, job_id, created) VALUES (?, ?, ?, ?)`,
		result.TenantID, result.EmployeeID, result.PayrunJobID, timestamp(created))
	if err != nil {
		return storeError("save payroll result", err)
	}
	if result.ID, err = res.LastInsertId(); err != nil {
		return storeError("save payroll result", err)
	}

	insertRow := func(kind string, base *engine.ResultBase, row any) error {
		base.JobID = result.PayrunJobID
		if base.Created.IsZero() {
			base.Created = created
		}
		body, err := encode(row)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO result_rows (payroll_result_id, job_id, tenant_id, employee_id, kind, body) VALUES (?, ?, ?, ?, ?, ?)`,
			result.ID, result.PayrunJobID, result.TenantID, result.EmployeeID, kind, body)
		if err != nil {
			return storeError("save "+kind+" result", err)
		}
		if base.ID, err = res.LastInsertId(); err != nil {
			return storeError("save "+kind+" result", err)
		}
		return nil
	}

	for _, r := range result.CollectorResults {
		if err := insertRow(rowCollector, &r.ResultBase, r); err != nil {
			return err
		}
	}
	for _, r := range result.CollectorCustomResult {
		if err := insertRow(rowCollectorCustom, &r.ResultBase, r); err != nil {
			return err
		}
	}
	for _, r := range result.WageTypeResults {
		if err := insertRow(rowWageType, &r.ResultBase, r); err != nil {
			return err
		}
	}
	for _, r := range result.WageTypeCustomResults {
		if err := insertRow(rowWageTypeCustom, &r.ResultBase, r); err != nil {
			return err
		}
	}
	for _, r := range result.PayrunResults {
		r.JobID = result.PayrunJobID
		body, err := encode(r)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO result_rows (payroll_result_id, job_id, tenant_id, employee_id, kind, body) VALUES (?, ?, ?, ?, ?, ?)`,
			result.ID, result.PayrunJobID, result.TenantID, result.EmployeeID, rowPayrun, body)
		if err != nil {
			return storeError("save payrun result", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return storeError("save payrun result", err)
		}
	}
	return nil
}

// listResults loads the result rows of an employee with their jobs and
// applies the remaining query filters.
func listResults[T any](ctx context.Context, s *SQLiteStore, kind string, query engine.ResultQuery, base func(*T) *engine.ResultBase, match func(*T) bool) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.body, j.id, j.job_status, j.body
		 FROM result_rows r JOIN payrun_jobs j ON j.id = r.job_id
		 WHERE r.kind = ? AND r.tenant_id = ? AND r.employee_id = ?
		 ORDER BY r.id`,
		kind, query.TenantID, query.EmployeeID)
	if err != nil {
		return nil, storeError("list "+kind+" results", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var (
			id, jobID                 int64
			body, jobStatus, jobBody string
		)
		if err := rows.Scan(&id, &body, &jobID, &jobStatus, &jobBody); err != nil {
			return nil, storeError("scan "+kind+" result", err)
		}
		job, err := decodeJob(jobID, jobStatus, jobBody)
		if err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(body), v); err != nil {
			return nil, storeError("decode "+kind+" result", err)
		}
		b := base(v)
		b.ID = id
		if match(v) && matchResult(b, query.EmployeeID, job, query) {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate "+kind+" results", err)
	}
	return out, nil
}

// ListWageTypeResults implements engine.ResultProvider.
func (s *SQLiteStore) ListWageTypeResults(ctx context.Context, query engine.ResultQuery) ([]*engine.WageTypeResult, error) {
	return listResults(ctx, s, rowWageType, query,
		func(r *engine.WageTypeResult) *engine.ResultBase { return &r.ResultBase },
		func(r *engine.WageTypeResult) bool { return matchNumber(query, r.WageTypeNumber) })
}

// ListWageTypeCustomResults implements engine.ResultProvider.
func (s *SQLiteStore) ListWageTypeCustomResults(ctx context.Context, query engine.ResultQuery) ([]*engine.WageTypeCustomResult, error) {
	return listResults(ctx, s, rowWageTypeCustom, query,
		func(r *engine.WageTypeCustomResult) *engine.ResultBase { return &r.ResultBase },
		func(r *engine.WageTypeCustomResult) bool { return matchNumber(query, r.WageTypeNumber) })
}

// ListCollectorResults implements engine.ResultProvider.
func (s *SQLiteStore) ListCollectorResults(ctx context.Context, query engine.ResultQuery) ([]*engine.CollectorResult, error) {
	return listResults(ctx, s, rowCollector, query,
		func(r *engine.CollectorResult) *engine.ResultBase { return &r.ResultBase },
		func(r *engine.CollectorResult) bool { return matchName(query, r.CollectorName) })
}

// ListCollectorCustomResults implements engine.ResultProvider.
func (s *SQLiteStore) ListCollectorCustomResults(ctx context.Context, query engine.ResultQuery) ([]*engine.CollectorCustomResult, error) {
	return listResults(ctx, s, rowCollectorCustom, query,
		func(r *engine.CollectorCustomResult) *engine.ResultBase { return &r.ResultBase },
		func(r *engine.CollectorCustomResult) bool { return matchName(query, r.CollectorName) })
}

// AddLog appends a script log entry.
func (s *SQLiteStore) AddLog(ctx context.Context, entry *engine.LogEntry) error {
	body, err := encode(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO script_logs (id, tenant_id, body) VALUES (?, ?, ?)`, entry.ID, entry.TenantID, body); err != nil {
		return storeError("add log", err)
	}
	return nil
}

// AddTask appends a script task.
func (s *SQLiteStore) AddTask(ctx context.Context, task *engine.Task) error {
	body, err := encode(task)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO script_tasks (id, tenant_id, body) VALUES (?, ?, ?)`, task.ID, task.TenantID, body); err != nil {
		return storeError("add task", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
