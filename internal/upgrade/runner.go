package upgrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"limscore/internal/blob"
	"limscore/internal/catalog"
	"limscore/internal/tracing"
	"limscore/pkg/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProcedureRecorder observes procedure executions.
type ProcedureRecorder interface {
	ObserveProcedure(product, version, procedure string, success bool, d time.Duration)
}

// Outcome reports how one step of a run ended.
type Outcome struct {
	Version string
	Status  domain.UpgradeStatus
}

// Runner executes registered steps against a store.
type Runner struct {
	store         domain.PersistentStore
	registry      *Registry
	catalog       *catalog.Tool
	backups       blob.Store
	metrics       ProcedureRecorder
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
	progressEvery int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCatalog sets the catalog tool procedures use.
func WithCatalog(tool *catalog.Tool) RunnerOption { return func(r *Runner) { r.catalog = tool } }

// WithBackups archives a snapshot of the store before each executed step.
func WithBackups(store blob.Store) RunnerOption { return func(r *Runner) { r.backups = store } }

// WithMetrics records procedure durations.
func WithMetrics(m ProcedureRecorder) RunnerOption { return func(r *Runner) { r.metrics = m } }

// WithLogger overrides the runner logger.
func WithLogger(l *slog.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// WithClock overrides the clock used for records and backup names.
func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

// WithProgressEvery sets the progress logging interval handed to procedures.
func WithProgressEvery(n int) RunnerOption { return func(r *Runner) { r.progressEvery = n } }

// NewRunner returns a runner over store and registry.
func NewRunner(store domain.PersistentStore, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:         store,
		registry:      registry,
		logger:        slog.With("module", "upgrade"),
		tracer:        tracing.Tracer("upgrade"),
		now:           func() time.Time { return time.Now().UTC() },
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = catalog.NewTool()
	}
	return r
}

// InstalledVersion returns the product's installed version.
func (r *Runner) InstalledVersion(ctx context.Context, product string) (string, bool, error) {
	var (
		version string
		ok      bool
	)
	err := r.store.View(ctx, func(v domain.TransactionView) error {
		version, ok = v.InstalledVersion(product)
		return nil
	})
	return version, ok, err
}

// isCurrent reports whether installed already satisfies target.
func isCurrent(installed string, known bool, target string) (bool, error) {
	if !known || installed == "" {
		return false, nil
	}
	cmp, err := CompareVersions(installed, target)
	if err != nil {
		return false, err
	}
	return cmp >= 0, nil
}

// Pending lists the product's steps newer than the installed version.
func (r *Runner) Pending(ctx context.Context, product string) ([]Step, error) {
	installed, known, err := r.InstalledVersion(ctx, product)
	if err != nil {
		return nil, err
	}
	var out []Step
	for _, step := range r.registry.Steps(product) {
		current, err := isCurrent(installed, known, step.Version)
		if err != nil {
			return nil, err
		}
		if !current {
			out = append(out, step)
		}
	}
	return out, nil
}

// History returns the recorded step attempts for product, oldest first.
func (r *Runner) History(ctx context.Context, product string) ([]domain.UpgradeRecord, error) {
	var out []domain.UpgradeRecord
	err := r.store.View(ctx, func(v domain.TransactionView) error {
		out = v.ListUpgradeRecords(product)
		return nil
	})
	return out, err
}

// Run executes every registered step of product in version order and stops
// at the first failure.
func (r *Runner) Run(ctx context.Context, product string) ([]Outcome, error) {
	steps := r.registry.Steps(product)
	if len(steps) == 0 {
		return nil, fmt.Errorf("no upgrade steps registered for %s", product)
	}
	outcomes := make([]Outcome, 0, len(steps))
	for _, step := range steps {
		status, err := r.RunStep(ctx, step)
		outcomes = append(outcomes, Outcome{Version: step.Version, Status: status})
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// RunStep executes one step. When the installed version is already at or
// beyond the step's target it logs and returns UpgradeSkipped without
// touching the store. Otherwise the procedures run in order; the first
// failure stops the step and leaves the installed version unchanged.
func (r *Runner) RunStep(ctx context.Context, step Step) (domain.UpgradeStatus, error) {
	if err := step.validate(); err != nil {
		return domain.UpgradeNotRun, err
	}
	ctx, span := tracing.StartSpan(ctx, r.tracer, "upgrade.step",
		attribute.String(tracing.ProductKey, step.Product),
		attribute.String(tracing.VersionKey, step.Version),
	)
	defer span.End()

	installed, known, err := r.InstalledVersion(ctx, step.Product)
	if err != nil {
		tracing.SetError(span, err)
		return domain.UpgradeNotRun, err
	}
	current, err := isCurrent(installed, known, step.Version)
	if err != nil {
		tracing.SetError(span, err)
		return domain.UpgradeNotRun, fmt.Errorf("installed version of %s: %w", step.Product, err)
	}
	if current {
		r.logger.Info(fmt.Sprintf("Skipping upgrade of %s: %s > %s", step.Product, installed, step.Version),
			"product", step.Product, "installed", installed, "target", step.Version)
		span.SetAttributes(attribute.String(tracing.OutcomeKey, string(domain.UpgradeSkipped)))
		return domain.UpgradeSkipped, nil
	}

	started := r.now()
	r.logger.Info(fmt.Sprintf("Upgrading %s: %s -> %s", step.Product, installed, step.Version),
		"product", step.Product, "installed", installed, "target", step.Version)
	record := domain.UpgradeRecord{
		Product:   step.Product,
		Version:   step.Version,
		From:      installed,
		Status:    domain.UpgradeRunning,
		StartedAt: started,
	}
	if err := r.backup(ctx, step, installed, started); err != nil {
		return r.fail(ctx, span, record, fmt.Errorf("backup before %s %s: %w", step.Product, step.Version, err))
	}
	if _, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.RecordUpgrade(record)
	}); err != nil {
		tracing.SetError(span, err)
		return domain.UpgradeFailed, err
	}

	uc := &Context{
		Product:       step.Product,
		Version:       step.Version,
		From:          installed,
		Store:         r.store,
		Catalog:       r.catalog,
		Logger:        r.logger.With("product", step.Product, "version", step.Version),
		progressEvery: r.progressEvery,
	}
	for _, proc := range step.Procedures {
		if err := r.runProcedure(ctx, uc, step, proc); err != nil {
			return r.fail(ctx, span, record, fmt.Errorf("%s: %w", proc.Name, err))
		}
	}

	record.Status = domain.UpgradeDone
	record.FinishedAt = r.now()
	if _, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.SetInstalledVersion(step.Product, step.Version); err != nil {
			return err
		}
		return tx.RecordUpgrade(record)
	}); err != nil {
		tracing.SetError(span, err)
		return domain.UpgradeFailed, err
	}
	span.SetAttributes(attribute.String(tracing.OutcomeKey, string(domain.UpgradeDone)))
	r.logger.Info(fmt.Sprintf("%s upgraded to version %s", step.Product, step.Version),
		"product", step.Product, "installed", installed, "target", step.Version,
		"took", record.FinishedAt.Sub(started).String())
	return domain.UpgradeDone, nil
}

func (r *Runner) runProcedure(ctx context.Context, uc *Context, step Step, proc Procedure) error {
	ctx, span := tracing.StartSpan(ctx, r.tracer, "upgrade.procedure",
		attribute.String(tracing.ProductKey, step.Product),
		attribute.String(tracing.VersionKey, step.Version),
		attribute.String(tracing.ProcedureKey, proc.Name),
	)
	defer span.End()
	start := time.Now()
	err := proc.Run(ctx, uc)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveProcedure(step.Product, step.Version, proc.Name, err == nil, elapsed)
	}
	if err != nil {
		tracing.SetError(span, err)
		r.logger.Error("upgrade procedure failed", "procedure", proc.Name, "error", err)
		return err
	}
	r.logger.Debug("upgrade procedure done", "procedure", proc.Name, "took", elapsed.String())
	return nil
}

func (r *Runner) fail(ctx context.Context, span trace.Span, record domain.UpgradeRecord, cause error) (domain.UpgradeStatus, error) {
	tracing.SetError(span, cause)
	record.Status = domain.UpgradeFailed
	record.FinishedAt = r.now()
	record.Error = cause.Error()
	if _, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.RecordUpgrade(record)
	}); err != nil {
		r.logger.Error("record failed upgrade", "error", err)
	}
	return domain.UpgradeFailed, cause
}

// BackupKey names the archive written before a step runs.
func BackupKey(product, version string, at time.Time) string {
	return path.Join("upgrades", product, version, at.UTC().Format("20060102T150405Z")+".json")
}

func (r *Runner) backup(ctx context.Context, step Step, from string, at time.Time) error {
	if r.backups == nil {
		return nil
	}
	payload, err := json.Marshal(r.store.ExportState())
	if err != nil {
		return err
	}
	key := BackupKey(step.Product, step.Version, at)
	info, err := r.backups.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"product": step.Product, "version": step.Version, "from": from},
	})
	if err != nil {
		return err
	}
	r.logger.Info("store snapshot archived", "key", info.Key, "bytes", info.Size, "driver", r.backups.Driver())
	return nil
}
