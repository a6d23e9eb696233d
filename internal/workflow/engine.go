// Package workflow applies guarded state transitions to content objects. It
// holds the workflow engine, the transition invoker with its per-request skip
// ledger, post-transition hooks and role-mapping maintenance.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"limscore/internal/tracing"
	"limscore/pkg/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Publisher receives applied transitions after they commit.
type Publisher interface {
	PublishTransition(ctx context.Context, ev Event) error
}

// Indexer refreshes catalog entries for an object inside the transaction that changed it.
type Indexer interface {
	ReindexObject(tx domain.Transaction, uid string) error
}

// Engine applies workflow transitions against a persistent store. Guards
// run inside the store transaction; hooks and publishers run after commit so
// cascading handlers may start transactions of their own.
type Engine struct {
	store     domain.PersistentStore
	guards    *GuardRegistry
	hooks     *HookRegistry
	indexer   Indexer
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuards sets the guard expression registry.
func WithGuards(g *GuardRegistry) Option { return func(e *Engine) { e.guards = g } }

// WithHooks sets the post-transition hook registry.
func WithHooks(h *HookRegistry) Option { return func(e *Engine) { e.hooks = h } }

// WithIndexer reindexes objects after each transition.
func WithIndexer(ix Indexer) Option { return func(e *Engine) { e.indexer = ix } }

// WithPublisher forwards applied transitions to p.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides the clock stamping workflow history.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine constructs an engine over store.
func NewEngine(store domain.PersistentStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		guards: NewGuardRegistry(),
		hooks:  NewHookRegistry(),
		logger: slog.With("module", "workflow"),
		tracer: tracing.Tracer("workflow"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing store.
func (e *Engine) Store() domain.PersistentStore { return e.store }

// Guards returns the guard registry.
func (e *Engine) Guards() *GuardRegistry { return e.guards }

// Hooks returns the hook registry.
func (e *Engine) Hooks() *HookRegistry { return e.hooks }

// SetIndexer replaces the indexer.
func (e *Engine) SetIndexer(ix Indexer) { e.indexer = ix }

// SetPublisher replaces the publisher.
func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }

func currentState(wf domain.Workflow, obj domain.Object) string {
	if state := obj.State(wf.StateVariable); state != "" {
		return state
	}
	return wf.InitialState
}

// resolve picks the first workflow in the object's chain that offers action
// from the object's current state and whose guard passes.
func (e *Engine) resolve(ctx context.Context, view domain.TransactionView, req *Request, obj domain.Object, action string) (domain.Workflow, domain.Transition, error) {
	var rejection string
	for _, wfID := range view.Chain(obj.PortalType) {
		wf, ok := view.FindWorkflow(wfID)
		if !ok {
			return domain.Workflow{}, domain.Transition{}, domain.ErrNotFound{Entity: domain.EntityWorkflow, ID: wfID}
		}
		state, ok := wf.States[currentState(wf, obj)]
		if !ok || !state.HasTransition(action) {
			continue
		}
		tr, ok := wf.Transitions[action]
		if !ok {
			continue
		}
		passed, reason := e.guards.Check(ctx, GuardContext{
			Request: req, View: view, Object: obj, Workflow: wf, Transition: *tr,
		})
		if !passed {
			rejection = reason
			continue
		}
		return wf, *tr, nil
	}
	if rejection != "" {
		return domain.Workflow{}, domain.Transition{}, guardRejected(obj.UID, action, rejection)
	}
	return domain.Workflow{}, domain.Transition{}, noWorkflowFor(obj.UID, action)
}

// DoActionFor applies action to the object. It returns *UnavailableError when
// no workflow offers the action or its guard fails; any other error is a
// fault. Hook failures surface as *HookError after the transition committed.
// A nil req falls back to the request attached to ctx.
func (e *Engine) DoActionFor(ctx context.Context, req *Request, uid, action string) error {
	req = requestOrContext(ctx, req)
	ctx, span := tracing.StartSpan(ctx, e.tracer, "workflow.do_action",
		attribute.String(tracing.ObjectUIDKey, uid),
		attribute.String(tracing.ActionKey, action),
	)
	defer span.End()

	var ev Event
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		obj, ok := tx.FindObject(uid)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
		}
		wf, tr, err := e.resolve(ctx, tx, req, obj, action)
		if err != nil {
			return err
		}
		oldState := currentState(wf, obj)
		actor := ""
		if req != nil {
			actor = req.Actor
		}
		updated, err := tx.UpdateObject(uid, func(o *domain.Object) error {
			o.SetState(wf.StateVariable, tr.NewStateID)
			applyRoleMappings(wf, o)
			o.History = append(o.History, domain.HistoryEntry{
				Action:        action,
				Actor:         actor,
				Workflow:      wf.ID,
				StateVariable: wf.StateVariable,
				State:         tr.NewStateID,
				Time:          e.now(),
			})
			return nil
		})
		if err != nil {
			return err
		}
		if e.indexer != nil {
			if err := e.indexer.ReindexObject(tx, uid); err != nil {
				return fmt.Errorf("reindex %s: %w", uid, err)
			}
		}
		ev = Event{
			Request:       req,
			Object:        updated,
			Workflow:      wf.ID,
			Transition:    action,
			StateVariable: wf.StateVariable,
			OldState:      oldState,
			NewState:      tr.NewStateID,
		}
		return nil
	})
	if err != nil {
		tracing.SetError(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String(tracing.PortalTypeKey, ev.Object.PortalType),
		attribute.String(tracing.WorkflowKey, ev.Workflow),
	)
	e.logger.Debug("transition applied", "uid", uid, "action", action, "from", ev.OldState, "to", ev.NewState)

	if err := e.hooks.Dispatch(ctx, ev); err != nil {
		tracing.SetError(span, err)
		e.logger.Error("post-transition hook failed", "uid", uid, "action", action, "error", err)
		return err
	}
	if e.publisher != nil {
		if err := e.publisher.PublishTransition(ctx, ev); err != nil {
			e.logger.Warn("publish transition", "uid", uid, "action", action, "error", err)
		}
	}
	return nil
}

// AllowedTransitions returns the transitions the caller may fire on the
// object right now, in chain and state order.
func (e *Engine) AllowedTransitions(ctx context.Context, req *Request, uid string) ([]domain.Transition, error) {
	req = requestOrContext(ctx, req)
	var out []domain.Transition
	err := e.store.View(ctx, func(view domain.TransactionView) error {
		obj, ok := view.FindObject(uid)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
		}
		seen := make(map[string]struct{})
		for _, wfID := range view.Chain(obj.PortalType) {
			wf, ok := view.FindWorkflow(wfID)
			if !ok {
				continue
			}
			state, ok := wf.States[currentState(wf, obj)]
			if !ok {
				continue
			}
			for _, id := range state.Transitions {
				tr, ok := wf.Transitions[id]
				if !ok {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				if passed, _ := e.guards.Check(ctx, GuardContext{Request: req, View: view, Object: obj, Workflow: wf, Transition: *tr}); !passed {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, *tr)
			}
		}
		return nil
	})
	return out, err
}

// CreateObject stores obj with every workflow of its chain at the initial
// state and the matching role mappings.
func (e *Engine) CreateObject(ctx context.Context, req *Request, obj domain.Object) (domain.Object, error) {
	var created domain.Object
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, wfID := range tx.Chain(obj.PortalType) {
			wf, ok := tx.FindWorkflow(wfID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityWorkflow, ID: wfID}
			}
			if obj.State(wf.StateVariable) == "" {
				obj.SetState(wf.StateVariable, wf.InitialState)
			}
			applyRoleMappings(wf, &obj)
		}
		var err error
		created, err = tx.CreateObject(obj)
		if err != nil {
			return err
		}
		if e.indexer != nil {
			return e.indexer.ReindexObject(tx, created.UID)
		}
		return nil
	})
	if err != nil {
		return domain.Object{}, err
	}
	if err := e.hooks.Dispatch(ctx, Event{Request: req, Object: created}); err != nil {
		return created, err
	}
	return created, nil
}

// UpdateRoleMappings recomputes the role mappings of every workflow in the
// object's chain and reports whether anything changed.
func (e *Engine) UpdateRoleMappings(ctx context.Context, uid string) (bool, error) {
	changed := false
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		obj, ok := tx.FindObject(uid)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityObject, ID: uid}
		}
		for _, wfID := range tx.Chain(obj.PortalType) {
			wf, ok := tx.FindWorkflow(wfID)
			if !ok {
				continue
			}
			c, err := UpdateRoleMappingsFor(tx, wf, uid)
			if err != nil {
				return err
			}
			changed = changed || c
		}
		return nil
	})
	return changed, err
}
