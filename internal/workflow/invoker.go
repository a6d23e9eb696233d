package workflow

import (
	"context"
	"errors"
	"log/slog"

	"limscore/pkg/domain"
)

// ActionPerformer is the engine call the invoker guards.
type ActionPerformer interface {
	DoActionFor(ctx context.Context, req *Request, uid, action string) error
}

// OutcomeRecorder observes invoker results.
type OutcomeRecorder interface {
	ObserveTransition(action string, outcome domain.Outcome)
}

// Invoker performs a transition unless the skip ledger already claimed it,
// turning guard rejections into results.
type Invoker struct {
	engine  ActionPerformer
	metrics OutcomeRecorder
	logger  *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger overrides the invoker logger.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker wraps engine. metrics may be nil.
func NewInvoker(engine ActionPerformer, metrics OutcomeRecorder, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		engine:  engine,
		metrics: metrics,
		logger:  slog.With("module", "workflow"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// DoActionFor fires action on uid. A key already present in the request's
// skip ledger yields Skipped without contacting the engine. An unavailable
// transition yields GuardRejected with the engine message; every other
// failure is returned as an error. A nil req falls back to the request
// attached to ctx.
func (i *Invoker) DoActionFor(ctx context.Context, req *Request, uid, action string) (domain.TransitionResult, error) {
	req = requestOrContext(ctx, req)
	if req.ShouldSkip(uid, action, Peek()) {
		i.observe(action, domain.OutcomeSkipped)
		return domain.Skipped(), nil
	}
	if err := i.engine.DoActionFor(ctx, req, uid, action); err != nil {
		var hookErr *HookError
		var unavailable *UnavailableError
		if !errors.As(err, &hookErr) && errors.As(err, &unavailable) {
			i.logger.Debug("transition rejected", "uid", uid, "action", action, "reason", unavailable.Message)
			i.observe(action, domain.OutcomeGuardRejected)
			return domain.GuardRejected(unavailable.Message), nil
		}
		return domain.TransitionResult{}, err
	}
	i.observe(action, domain.OutcomeApplied)
	return domain.Applied(), nil
}

func (i *Invoker) observe(action string, outcome domain.Outcome) {
	if i.metrics != nil {
		i.metrics.ObserveTransition(action, outcome)
	}
}
