package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"limscore/internal/blob"
	"limscore/internal/config"
	"limscore/internal/core"
	"limscore/internal/events"
	"limscore/internal/i18n"
	"limscore/internal/logging"
	"limscore/internal/metrics"
	"limscore/internal/tracing"
	"limscore/pkg/domain"
	"limscore/plugins/lims"
)

// app is the wired service stack shared by every subcommand.
type app struct {
	cfg        *config.Config
	svc        *core.Service
	metrics    *metrics.Recorder
	translator *i18n.Translator
	bus        *gochannel.GoChannel
	publisher  *events.Publisher
	logger     *slog.Logger
	closers    []func() error
}

type bootstrapOptions struct {
	configPath string
	logOutput  io.Writer
	traceOut   io.Writer
}

// bootstrap loads the configuration, opens storage and installs the LIMS
// plugin. Callers must call close.
func bootstrap(ctx context.Context, opts bootstrapOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logOutput != nil {
		logging.SetupWriter(opts.logOutput, cfg.Log.Level)
	} else {
		logging.Setup(cfg.Log.Level)
	}
	a := &app{cfg: cfg, logger: logging.WithModule("limsctl")}
	ok := false
	defer func() {
		if !ok {
			_ = a.close()
		}
	}()

	if opts.traceOut != nil {
		shutdown, err := tracing.SetupWriter(opts.traceOut)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, domain.NewRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if c, isCloser := store.(io.Closer); isCloser {
		a.closers = append(a.closers, c.Close)
	}

	a.translator, err = i18n.New(cfg.I18n.Language)
	if err != nil {
		return nil, err
	}
	a.metrics = metrics.New(true)
	a.bus = events.NewInProcess(logging.WithModule("events"))
	a.closers = append(a.closers, a.bus.Close)
	a.publisher = events.NewPublisher(a.bus, events.TopicTransitioned)

	svcOpts := []core.Option{
		core.WithPublisher(a.publisher),
		core.WithOutcomeRecorder(a.metrics),
		core.WithProcedureRecorder(a.metrics),
		core.WithProgressEvery(cfg.Upgrade.ProgressEvery),
		core.WithLogger(logging.WithModule("core")),
	}
	if cfg.Upgrade.Backup {
		backups, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		svcOpts = append(svcOpts, core.WithBackups(backups))
	}
	a.svc = core.NewService(store, svcOpts...)
	if _, err := a.svc.InstallPlugin(ctx, lims.New()); err != nil {
		return nil, fmt.Errorf("install %s: %w", lims.Product, err)
	}
	ok = true
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
