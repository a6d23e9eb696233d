// Package core wires the persistent store, workflow engine, catalog tool and
// upgrade runner together and installs content plugins into them.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"limscore/internal/blob"
	"limscore/internal/catalog"
	"limscore/internal/upgrade"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

type rulesProvider interface {
	RulesEngine() *domain.RulesEngine
}

type serviceConfig struct {
	publisher     workflow.Publisher
	outcomes      workflow.OutcomeRecorder
	procedures    upgrade.ProcedureRecorder
	backups       blob.Store
	logger        *slog.Logger
	sharedLogger  bool
	clock         func() time.Time
	progressEvery int
}

// Option configures a Service.
type Option func(*serviceConfig)

// WithPublisher forwards applied transitions to p after commit.
func WithPublisher(p workflow.Publisher) Option { return func(c *serviceConfig) { c.publisher = p } }

// WithOutcomeRecorder observes transition invoker results.
func WithOutcomeRecorder(r workflow.OutcomeRecorder) Option {
	return func(c *serviceConfig) { c.outcomes = r }
}

// WithProcedureRecorder observes upgrade procedure runs.
func WithProcedureRecorder(r upgrade.ProcedureRecorder) Option {
	return func(c *serviceConfig) { c.procedures = r }
}

// WithBackups archives a store snapshot before each executed upgrade step.
func WithBackups(store blob.Store) Option { return func(c *serviceConfig) { c.backups = store } }

// WithLogger sets the logger of the service and of the workflow engine,
// invoker and upgrade runner it builds.
func WithLogger(l *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = l
		c.sharedLogger = true
	}
}

// WithClock overrides the clock used for workflow history and upgrade records.
func WithClock(now func() time.Time) Option { return func(c *serviceConfig) { c.clock = now } }

// WithProgressEvery sets the upgrade progress logging interval.
func WithProgressEvery(n int) Option { return func(c *serviceConfig) { c.progressEvery = n } }

// Service is the assembled LIMS core.
type Service struct {
	store    domain.PersistentStore
	guards   *workflow.GuardRegistry
	hooks    *workflow.HookRegistry
	catalog  *catalog.Tool
	engine   *workflow.Engine
	invoker  *workflow.Invoker
	upgrades *upgrade.Registry
	runner   *upgrade.Runner
	runtime  *Runtime
	logger   *slog.Logger

	mu      sync.Mutex
	plugins map[string]PluginMetadata
}

// NewService assembles a service over store. When the store exposes its
// rules engine the workflow state integrity rule is registered on it.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	cfg := serviceConfig{
		logger:        slog.With("module", "core"),
		progressEvery: upgrade.DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{
		store:    store,
		guards:   workflow.NewGuardRegistry(),
		hooks:    workflow.NewHookRegistry(),
		catalog:  catalog.NewTool(),
		upgrades: upgrade.NewRegistry(),
		logger:   cfg.logger,
		plugins:  make(map[string]PluginMetadata),
	}
	engineOpts := []workflow.Option{
		workflow.WithGuards(s.guards),
		workflow.WithHooks(s.hooks),
		workflow.WithIndexer(s.catalog),
	}
	if cfg.publisher != nil {
		engineOpts = append(engineOpts, workflow.WithPublisher(cfg.publisher))
	}
	runnerOpts := []upgrade.RunnerOption{
		upgrade.WithCatalog(s.catalog),
		upgrade.WithProgressEvery(cfg.progressEvery),
	}
	var invokerOpts []workflow.InvokerOption
	if cfg.sharedLogger {
		engineOpts = append(engineOpts, workflow.WithLogger(cfg.logger))
		invokerOpts = append(invokerOpts, workflow.WithInvokerLogger(cfg.logger))
		runnerOpts = append(runnerOpts, upgrade.WithLogger(cfg.logger))
	}
	if cfg.clock != nil {
		engineOpts = append(engineOpts, workflow.WithClock(cfg.clock))
		runnerOpts = append(runnerOpts, upgrade.WithClock(cfg.clock))
	}
	if cfg.backups != nil {
		runnerOpts = append(runnerOpts, upgrade.WithBackups(cfg.backups))
	}
	if cfg.procedures != nil {
		runnerOpts = append(runnerOpts, upgrade.WithMetrics(cfg.procedures))
	}
	s.engine = workflow.NewEngine(store, engineOpts...)
	s.invoker = workflow.NewInvoker(s.engine, cfg.outcomes, invokerOpts...)
	s.runner = upgrade.NewRunner(store, s.upgrades, runnerOpts...)
	s.runtime = &Runtime{Store: store, Engine: s.engine, Invoker: s.invoker, Catalog: s.catalog}
	if rp, ok := store.(rulesProvider); ok && rp.RulesEngine() != nil {
		rp.RulesEngine().Register(StateIntegrityRule())
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Engine returns the workflow engine.
func (s *Service) Engine() *workflow.Engine { return s.engine }

// Invoker returns the skip-aware transition invoker.
func (s *Service) Invoker() *workflow.Invoker { return s.invoker }

// Catalog returns the catalog tool.
func (s *Service) Catalog() *catalog.Tool { return s.catalog }

// Upgrades returns the upgrade runner.
func (s *Service) Upgrades() *upgrade.Runner { return s.runner }

// Runtime returns the handles passed to post-transition handlers.
func (s *Service) Runtime() *Runtime { return s.runtime }

// InstallPlugin registers a plugin's guards, handlers, resolvers and upgrade
// steps, then stores its workflows, chains and catalogs. Workflows and
// catalogs already present in the store are left as they are so that
// definitions evolved by upgrade steps are not reset. A product without an
// installed version is recorded at the plugin version.
func (s *Service) InstallPlugin(ctx context.Context, plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, fmt.Errorf("register plugin %s: %w", plugin.Name(), err)
	}
	for _, step := range registry.UpgradeSteps() {
		if err := s.upgrades.Register(step); err != nil {
			return PluginMetadata{}, err
		}
	}
	for expr, fn := range registry.guards {
		if err := s.guards.Register(expr, fn); err != nil {
			return PluginMetadata{}, err
		}
	}
	for _, b := range registry.hooks {
		fn := b.fn
		if err := s.hooks.Register(b.portalType, b.transition, func(ctx context.Context, ev workflow.Event) error {
			return fn(ctx, s.runtime, ev)
		}); err != nil {
			return PluginMetadata{}, err
		}
	}
	for name, fn := range registry.resolvers {
		s.catalog.RegisterResolver(name, fn)
	}
	if rp, ok := s.store.(rulesProvider); ok && rp.RulesEngine() != nil {
		for _, rule := range registry.Rules() {
			rp.RulesEngine().Register(rule)
		}
	}

	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, wf := range registry.Workflows() {
			if _, exists := tx.FindWorkflow(wf.ID); exists {
				continue
			}
			if err := tx.PutWorkflow(wf); err != nil {
				return err
			}
		}
		chains := registry.Chains()
		for _, portalType := range domain.SortedKeys(chains) {
			if err := tx.SetChain(portalType, chains[portalType]); err != nil {
				return err
			}
		}
		for _, def := range registry.Catalogs() {
			installed, err := s.catalog.Install(tx, def)
			if err != nil {
				return err
			}
			if installed == 0 {
				continue
			}
			if _, err := s.catalog.Rebuild(tx, def.ID); err != nil {
				return err
			}
		}
		if _, known := tx.InstalledVersion(plugin.Name()); !known {
			return tx.SetInstalledVersion(plugin.Name(), plugin.Version())
		}
		return nil
	})
	if err != nil {
		return PluginMetadata{}, fmt.Errorf("install plugin %s: %w", plugin.Name(), err)
	}

	meta := metadataFor(plugin, registry)
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version,
		"workflows", len(meta.Workflows), "catalogs", len(meta.Catalogs))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateObject stores a new content object at the initial state of its chain.
func (s *Service) CreateObject(ctx context.Context, req *workflow.Request, obj domain.Object) (domain.Object, error) {
	return s.engine.CreateObject(ctx, req, obj)
}

// GetObject returns the committed object.
func (s *Service) GetObject(ctx context.Context, uid string) (domain.Object, error) {
	var obj domain.Object
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		found, ok := v.FindObject(uid)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
		}
		obj = found
		return nil
	})
	return obj, err
}

// UpdateObject mutates an object's attributes and reindexes it.
func (s *Service) UpdateObject(ctx context.Context, uid string, mutator func(*domain.Object) error) (domain.Object, error) {
	var updated domain.Object
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateObject(uid, mutator)
		if err != nil {
			return err
		}
		return s.catalog.ReindexObject(tx, uid)
	})
	return updated, err
}

// CreateRelationship stores a reference-index record.
func (s *Service) CreateRelationship(ctx context.Context, rel domain.Relationship) (domain.Relationship, error) {
	var created domain.Relationship
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateRelationship(rel)
		return err
	})
	return created, err
}

// DoActionFor fires action on uid through the skip-aware invoker.
func (s *Service) DoActionFor(ctx context.Context, req *workflow.Request, uid, action string) (domain.TransitionResult, error) {
	return s.invoker.DoActionFor(ctx, req, uid, action)
}

// AllowedTransitions lists the transitions the caller may fire on uid now.
func (s *Service) AllowedTransitions(ctx context.Context, req *workflow.Request, uid string) ([]domain.Transition, error) {
	return s.engine.AllowedTransitions(ctx, req, uid)
}

// RunUpgrades executes the pending upgrade steps of product.
func (s *Service) RunUpgrades(ctx context.Context, product string) ([]upgrade.Outcome, error) {
	return s.runner.Run(ctx, product)
}
