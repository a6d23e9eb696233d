package upgrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/internal/catalog"
	"limscore/internal/infra/blob/memory"
	memstore "limscore/internal/infra/persistence/memory"
	"limscore/pkg/domain"
)

const product = "bika.lims"

type procedureObservation struct {
	procedure string
	success   bool
}

type recordingMetrics struct {
	mu  sync.Mutex
	obs []procedureObservation
}

func (m *recordingMetrics) ObserveProcedure(_, _, procedure string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, procedureObservation{procedure: procedure, success: success})
}

type fixture struct {
	store  *memstore.Store
	logs   *bytes.Buffer
	clock  time.Time
	runner *Runner
}

func newFixture(t *testing.T, installed string, opts ...RunnerOption) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.NewStore(nil),
		logs:  &bytes.Buffer{},
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if installed != "" {
		_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			return tx.SetInstalledVersion(product, installed)
		})
		require.NoError(t, err)
	}
	base := []RunnerOption{
		WithLogger(slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithClock(func() time.Time { return f.clock }),
	}
	f.runner = NewRunner(f.store, NewRegistry(), append(base, opts...)...)
	return f
}

// markerStep creates one object per run so re-execution is observable.
func markerStep(version string, runs *int) Step {
	return Step{
		Product: product,
		Version: version,
		Procedures: []Procedure{{
			Name: "create_marker",
			Run: func(ctx context.Context, uc *Context) error {
				*runs++
				return uc.Update(ctx, func(tx domain.Transaction) error {
					_, err := tx.CreateObject(domain.Object{PortalType: "Marker", ID: "marker-" + uc.Version})
					return err
				})
			},
		}},
	}
}

func TestRunStepUpgradesThenSkips(t *testing.T) {
	metrics := &recordingMetrics{}
	f := newFixture(t, "1.2.8", WithMetrics(metrics))
	ctx := context.Background()
	runs := 0
	s := markerStep("1.2.9", &runs)

	status, err := f.runner.RunStep(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, domain.UpgradeDone, status)
	assert.Equal(t, 1, runs)
	assert.Contains(t, f.logs.String(), "Upgrading bika.lims: 1.2.8 -> 1.2.9")
	assert.Contains(t, f.logs.String(), "bika.lims upgraded to version 1.2.9")

	installed, ok, err := f.runner.InstalledVersion(ctx, product)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.9", installed)

	history, err := f.runner.History(ctx, product)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.UpgradeRunning, history[0].Status)
	assert.Equal(t, domain.UpgradeDone, history[1].Status)
	assert.Equal(t, "1.2.8", history[1].From)
	assert.Equal(t, []procedureObservation{{procedure: "create_marker", success: true}}, metrics.obs)

	before := f.store.ExportState()
	status, err = f.runner.RunStep(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, domain.UpgradeSkipped, status)
	assert.Equal(t, 1, runs)
	assert.Equal(t, before, f.store.ExportState())
	assert.Contains(t, f.logs.String(), "Skipping upgrade of bika.lims: 1.2.9 > 1.2.9")
}

// logLine returns the first log line containing msg.
func logLine(t *testing.T, logs, msg string) string {
	t.Helper()
	for _, line := range strings.Split(logs, "\n") {
		if strings.Contains(line, msg) {
			return line
		}
	}
	t.Fatalf("no log line contains %q in:\n%s", msg, logs)
	return ""
}

func TestRunStepLogsVersionAttributes(t *testing.T) {
	f := newFixture(t, "1.2.8")
	ctx := context.Background()
	runs := 0
	s := markerStep("1.2.9", &runs)

	_, err := f.runner.RunStep(ctx, s)
	require.NoError(t, err)
	_, err = f.runner.RunStep(ctx, s)
	require.NoError(t, err)

	logs := f.logs.String()
	upgrading := logLine(t, logs, "Upgrading bika.lims")
	assert.Contains(t, upgrading, "product=bika.lims installed=1.2.8 target=1.2.9")
	done := logLine(t, logs, "upgraded to version")
	assert.Contains(t, done, "installed=1.2.8 target=1.2.9")
	assert.Contains(t, done, "took=")
	skipping := logLine(t, logs, "Skipping upgrade of bika.lims")
	assert.Contains(t, skipping, "product=bika.lims installed=1.2.9 target=1.2.9")
}

func TestRunStepWithoutInstalledVersionRuns(t *testing.T) {
	f := newFixture(t, "")
	runs := 0
	status, err := f.runner.RunStep(context.Background(), markerStep("1.2.9", &runs))
	require.NoError(t, err)
	assert.Equal(t, domain.UpgradeDone, status)
	assert.Equal(t, 1, runs)
}

func TestRunStepFailureKeepsVersion(t *testing.T) {
	metrics := &recordingMetrics{}
	f := newFixture(t, "1.2.8", WithMetrics(metrics))
	ctx := context.Background()
	ran := false
	s := Step{
		Product: product,
		Version: "1.2.9",
		Procedures: []Procedure{
			{Name: "first", Run: func(ctx context.Context, uc *Context) error {
				return uc.Update(ctx, func(tx domain.Transaction) error {
					_, err := tx.CreateObject(domain.Object{PortalType: "Marker"})
					return err
				})
			}},
			{Name: "second", Run: func(context.Context, *Context) error { return errors.New("boom") }},
			{Name: "third", Run: func(context.Context, *Context) error { ran = true; return nil }},
		},
	}

	status, err := f.runner.RunStep(ctx, s)
	require.Error(t, err)
	assert.Equal(t, domain.UpgradeFailed, status)
	assert.Equal(t, "second: boom", err.Error())
	assert.False(t, ran)

	installed, _, err := f.runner.InstalledVersion(ctx, product)
	require.NoError(t, err)
	assert.Equal(t, "1.2.8", installed)

	history, err := f.runner.History(ctx, product)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.UpgradeFailed, history[1].Status)
	assert.Equal(t, "second: boom", history[1].Error)

	// work committed by the first procedure is a checkpoint
	assert.Len(t, f.store.ExportState().Objects, 1)
	assert.Equal(t, []procedureObservation{{"first", true}, {"second", false}}, metrics.obs)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, "1.2.7")
	runs := 0
	require.NoError(t, f.runner.registry.Register(markerStep("1.2.8", &runs)))
	require.NoError(t, f.runner.registry.Register(Step{
		Product:    product,
		Version:    "1.2.9",
		Procedures: []Procedure{{Name: "broken", Run: func(context.Context, *Context) error { return errors.New("nope") }}},
	}))
	require.NoError(t, f.runner.registry.Register(markerStep("1.2.10", &runs)))

	pending, err := f.runner.Pending(context.Background(), product)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	outcomes, err := f.runner.Run(context.Background(), product)
	require.Error(t, err)
	assert.Equal(t, []Outcome{
		{Version: "1.2.8", Status: domain.UpgradeDone},
		{Version: "1.2.9", Status: domain.UpgradeFailed},
	}, outcomes)
	assert.Equal(t, 1, runs)

	pending, err = f.runner.Pending(context.Background(), product)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "1.2.9", pending[0].Version)

	_, err = f.runner.Run(context.Background(), "unknown")
	assert.ErrorContains(t, err, "no upgrade steps registered for unknown")
}

func TestRunStepArchivesSnapshot(t *testing.T) {
	backups := memory.New()
	f := newFixture(t, "1.2.8", WithBackups(backups))
	ctx := context.Background()
	runs := 0

	_, err := f.runner.RunStep(ctx, markerStep("1.2.9", &runs))
	require.NoError(t, err)

	key := BackupKey(product, "1.2.9", f.clock)
	assert.Equal(t, "upgrades/bika.lims/1.2.9/20240301T090000Z.json", key)
	info, rc, err := backups.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, "1.2.8", info.Metadata["from"])

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "1.2.8", snap.Versions[product])
	assert.Empty(t, snap.Objects)

	// a second archive under the same key fails the step before any work
	_, err = f.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.SetInstalledVersion(product, "1.2.8")
	})
	require.NoError(t, err)
	status, err := f.runner.RunStep(ctx, markerStep("1.2.9", &runs))
	assert.Equal(t, domain.UpgradeFailed, status)
	assert.ErrorContains(t, err, "backup before bika.lims 1.2.9")
	assert.Equal(t, 1, runs)
}

func TestRunStepRejectsInvalidInstalledVersion(t *testing.T) {
	f := newFixture(t, "latest")
	runs := 0
	status, err := f.runner.RunStep(context.Background(), markerStep("1.2.9", &runs))
	assert.Equal(t, domain.UpgradeNotRun, status)
	assert.ErrorIs(t, err, ErrInvalidVersion)
	assert.Zero(t, runs)
}

func TestContextProgressAndAddIndex(t *testing.T) {
	store := memstore.NewStore(nil)
	logs := &bytes.Buffer{}
	tool := catalog.NewTool()
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tool.Install(tx, domain.CatalogDefinition{
			ID:      catalog.AnalysisListing,
			Indexes: map[string]domain.IndexType{"UID": domain.FieldIndex},
		}); err != nil {
			return err
		}
		_, err := tx.CreateObject(domain.Object{UID: "a1", PortalType: "Analysis", Attributes: map[string]any{"getKeyword": "Ca"}})
		return err
	})
	require.NoError(t, err)

	uc := &Context{
		Store:         store,
		Catalog:       tool,
		Logger:        slog.New(slog.NewTextHandler(logs, nil)),
		progressEvery: 2,
	}
	for i := 1; i <= 5; i++ {
		uc.Progress(i, 5, "Reindexing")
	}
	assert.Equal(t, 2, strings.Count(logs.String(), "Reindexing"))

	added, err := uc.AddIndex(ctx, catalog.AnalysisListing, "getKeyword", domain.FieldIndex)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = uc.AddIndex(ctx, catalog.AnalysisListing, "getKeyword", domain.FieldIndex)
	require.NoError(t, err)
	assert.False(t, added)

	err = uc.View(ctx, func(v domain.TransactionView) error {
		found, err := tool.Search(v, catalog.AnalysisListing, catalog.Query{"getKeyword": "Ca"})
		require.NoError(t, err)
		assert.Len(t, found, 1)
		return nil
	})
	require.NoError(t, err)
}
