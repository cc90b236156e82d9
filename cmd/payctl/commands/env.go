package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/payroll/pkg/calendar"
	"github.com/openfroyo/payroll/pkg/config"
	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/policy"
	"github.com/openfroyo/payroll/pkg/regulation"
	"github.com/openfroyo/payroll/pkg/scripting"
	"github.com/openfroyo/payroll/pkg/stores"
	"github.com/openfroyo/payroll/pkg/telemetry"
)

// defaultCalendar applies to tenants without a calendar of their own.
var defaultCalendar = engine.Calendar{Name: "Default", PeriodTimeUnit: engine.TimeUnitCalendarMonth}

// environment is the configuration and telemetry shared by the commands.
type environment struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

func newEnvironment() (*environment, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	return &environment{cfg: cfg, telemetry: tel, logger: tel.Logger.Zerolog()}, nil
}

func (e *environment) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.telemetry.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// databaseConfig returns the database settings with the --db flag applied.
func (e *environment) databaseConfig() stores.Config {
	cfg := e.cfg.Database
	if dbPath != "" {
		cfg.Path = dbPath
	}
	return cfg
}

// openDatabase opens and migrates the SQLite store.
func (e *environment) openDatabase(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg := e.databaseConfig()
	if cfg.Path == "" {
		return nil, fmt.Errorf("no database configured, set database.path or --db")
	}
	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// parseBundles parses the bundle sources, the bundle directory when empty.
// Findings are printed; an error is returned when any of them is an error.
func (e *environment) parseBundles(ctx context.Context, sources []string) (*config.ParsedBundles, error) {
	if len(sources) == 0 {
		sources = []string{e.cfg.Regulations.BundleDir}
	}
	parsed, err := config.NewParser().Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	for _, v := range parsed.Errors {
		if v.Severity == "error" {
			e.logger.Error().Msg(v.String())
		} else {
			e.logger.Warn().Msg(v.String())
		}
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}
	return parsed, nil
}

// openStore returns the store a command reads: the database with --db,
// otherwise the bundles applied to a memory store.
func (e *environment) openStore(ctx context.Context, sources []string) (stores.Store, error) {
	if dbPath != "" {
		return e.openDatabase(ctx)
	}
	parsed, err := e.parseBundles(ctx, sources)
	if err != nil {
		return nil, err
	}
	store := stores.NewMemoryStore()
	if _, err := config.Apply(ctx, store, parsed.Bundles); err != nil {
		return nil, err
	}
	return store, nil
}

// policies loads the share policies of the policy directory.
func (e *environment) policies(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(e.logger)
	if err != nil {
		return nil, err
	}
	if dir := e.cfg.Regulations.PolicyDir; dir != "" {
		if err := pe.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// resolvers creates the regulation and calendar resolvers over a store.
func (e *environment) resolvers(ctx context.Context, store stores.Store) (*regulation.Resolver, *calendar.Resolver, error) {
	shares, err := e.policies(ctx)
	if err != nil {
		return nil, nil, err
	}
	return regulation.NewResolver(store, store, shares, e.logger), calendar.NewResolver(store, defaultCalendar), nil
}

func (e *environment) scriptHost(ctx context.Context) (*scripting.Host, error) {
	return scripting.NewHost(ctx, e.cfg.Scripting, e.logger, e.telemetry.Metrics, e.telemetry.Tracer)
}

// payrollScope is a tenant with one of its payrolls and the payroll division.
type payrollScope struct {
	tenant   *engine.Tenant
	payroll  *engine.Payroll
	division *engine.Division
}

func loadPayroll(ctx context.Context, store stores.Store, tenantIdentifier, payrollName string) (*payrollScope, error) {
	tenant, err := store.GetTenantByIdentifier(ctx, tenantIdentifier)
	if err != nil {
		return nil, err
	}
	payroll, err := store.GetPayrollByName(ctx, tenant.ID, payrollName)
	if err != nil {
		return nil, err
	}
	division, err := store.GetDivision(ctx, tenant.ID, payroll.DivisionID)
	if err != nil {
		return nil, err
	}
	return &payrollScope{tenant: tenant, payroll: payroll, division: division}, nil
}

// employeeIDs maps employee identifiers to IDs.
func employeeIDs(ctx context.Context, store stores.Store, tenantID int64, identifiers []string) ([]int64, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	all, err := store.ListEmployees(ctx, tenantID, engine.Query{})
	if err != nil {
		return nil, err
	}
	byIdentifier := make(map[string]int64, len(all))
	for _, e := range all {
		byIdentifier[e.Identifier] = e.ID
	}
	ids := make([]int64, 0, len(identifiers))
	for _, identifier := range identifiers {
		id, ok := byIdentifier[identifier]
		if !ok {
			return nil, engine.NewNotFoundError("employee", identifier)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}

// parseDate reads a date flag; an empty value returns the fallback.
func parseDate(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD, YYYY-MM or RFC 3339", value)
}

// printResult writes a value to stdout as YAML, or JSON with --json.
func printResult(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// closeStore releases a store opened by a command.
func closeStore(e *environment, store stores.Store) {
	if err := store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close store")
	}
}
