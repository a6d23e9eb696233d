package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"limscore/internal/events"
	"limscore/internal/jsonapi"
	"limscore/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts.bootstrapOptions(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			serverOpts := []jsonapi.Option{
				jsonapi.WithTranslator(a.translator),
				jsonapi.WithLogger(logging.WithModule("http")),
			}
			if a.cfg.HTTP.Metrics {
				serverOpts = append(serverOpts, jsonapi.WithMetricsHandler(a.metrics.Handler()))
			}
			server := jsonapi.NewServer(a.svc, serverOpts...)

			if err := a.logTransitions(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to http.addr)")
	return cmd
}

// logTransitions subscribes to the transition topic and logs each event
// until ctx ends.
func (a *app) logTransitions(ctx context.Context) error {
	messages, err := a.bus.Subscribe(ctx, a.publisher.Topic())
	if err != nil {
		return err
	}
	logger := logging.WithModule("events")
	go func() {
		for msg := range messages {
			ev, err := events.Decode(msg)
			if err != nil {
				logger.Warn("dropping undecodable transition event", "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			logger.Info("object transitioned",
				"uid", ev.UID,
				"transition", ev.Transition,
				"from", ev.OldState,
				"to", ev.NewState,
				"actor", ev.Actor,
			)
			msg.Ack()
		}
	}()
	return nil
}
