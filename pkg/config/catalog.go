package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/policy"
	"github.com/openfroyo/payroll/pkg/stores"
)

// Invalidator drops cached compiled functions.
type Invalidator interface {
	Invalidate()
}

// Snapshot is one loaded state of the regulation bundles.
type Snapshot struct {
	Store   *stores.MemoryStore
	Applied *Applied
	Parsed  *ParsedBundles
	Version int
}

// Catalog holds the in-memory store built from the bundle directory and
// rebuilds it on change. A failed reload keeps the previous snapshot.
type Catalog struct {
	parser   *Parser
	cfg      RegulationsConfig
	policies *policy.Engine
	cache    Invalidator
	logger   zerolog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewCatalog creates a catalog. Policies and cache are optional.
func NewCatalog(cfg RegulationsConfig, policies *policy.Engine, cache Invalidator, logger zerolog.Logger) *Catalog {
	return &Catalog{
		parser:   NewParser(),
		cfg:      cfg,
		policies: policies,
		cache:    cache,
		logger:   logger.With().Str("component", "regulation-catalog").Logger(),
	}
}

// Load reads the bundles and policies.
func (c *Catalog) Load(ctx context.Context) error {
	if err := c.loadBundles(ctx); err != nil {
		return err
	}
	return c.loadPolicies(ctx)
}

// Snapshot returns the current snapshot, nil before the first load.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Handle applies a watcher change.
func (c *Catalog) Handle(ctx context.Context, change Change) {
	if change.Bundles {
		if err := c.loadBundles(ctx); err != nil {
			c.logger.Error().Err(err).Strs("files", change.Files).Msg("Bundle reload failed, keeping previous regulations")
		}
	}
	if change.Policies {
		if err := c.loadPolicies(ctx); err != nil {
			c.logger.Error().Err(err).Msg("Policy reload failed")
		}
	}
}

func (c *Catalog) loadBundles(ctx context.Context) error {
	parsed, err := c.parser.Parse(ctx, []string{c.cfg.BundleDir})
	if err != nil {
		return err
	}
	for _, e := range parsed.Errors {
		if e.Severity == "warning" {
			c.logger.Warn().Str("path", e.Path).Str("file", e.File).Msg(e.Message)
		}
	}
	if err := parsed.Err(); err != nil {
		return err
	}

	store := stores.NewMemoryStore()
	applied, err := Apply(ctx, store, parsed.Bundles)
	if err != nil {
		return fmt.Errorf("failed to apply bundles: %w", err)
	}

	c.mu.Lock()
	version := 1
	if c.snapshot != nil {
		version = c.snapshot.Version + 1
	}
	c.snapshot = &Snapshot{Store: store, Applied: applied, Parsed: parsed, Version: version}
	c.mu.Unlock()

	if c.cache != nil {
		c.cache.Invalidate()
	}
	c.logger.Info().
		Int("version", version).
		Int("tenants", len(parsed.Bundles)).
		Int("files", len(parsed.SourceFiles)).
		Msg("Regulation bundles loaded")
	return nil
}

func (c *Catalog) loadPolicies(ctx context.Context) error {
	if c.policies == nil || c.cfg.PolicyDir == "" {
		return nil
	}
	if err := c.policies.ReloadPolicies(ctx); err != nil {
		return fmt.Errorf("failed to reset policies: %w", err)
	}
	return c.policies.LoadPolicies(ctx, []string{c.cfg.PolicyDir})
}
