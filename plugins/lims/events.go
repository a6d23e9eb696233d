package lims

import (
	"context"
	"fmt"
	"log/slog"

	"limscore/internal/core"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

var logger = slog.With("module", "lims")

type hook struct {
	portalType string
	transition string
	fn         core.HookFunc
}

func hooks() []hook {
	return []hook{
		{TypeAnalysis, string(domain.TransitionSubmit), afterAnalysisSubmit},
		{TypeAnalysis, string(domain.TransitionRetract), afterAnalysisRetract},
		{TypeAnalysisRequest, string(domain.TransitionSubmit), afterRequestSubmit},
		{TypeAnalysisRequest, string(domain.TransitionCancel), cascadeToAnalyses(string(domain.TransitionCancel))},
		{TypeAnalysisRequest, string(domain.TransitionReinstate), cascadeToAnalyses(string(domain.TransitionReinstate))},
		{TypeAnalysisRequest, string(domain.TransitionInvalidate), afterRequestInvalidate},
	}
}

func committedAnalyses(ctx context.Context, rt *core.Runtime, arUID string) ([]domain.Object, error) {
	var out []domain.Object
	err := rt.Store.View(ctx, func(view domain.TransactionView) error {
		out = analysesOf(view, arUID)
		return nil
	})
	return out, err
}

// afterAnalysisSubmit promotes the request once its last analysis is in.
func afterAnalysisSubmit(ctx context.Context, rt *core.Runtime, ev workflow.Event) error {
	if ev.Request.ShouldSkip(ev.Object.UID, ev.Transition) {
		return nil
	}
	if ev.Object.ParentUID == "" {
		return nil
	}
	res, err := rt.Invoker.DoActionFor(ctx, ev.Request, ev.Object.ParentUID, string(domain.TransitionSubmit))
	if err != nil {
		return err
	}
	logger.Debug("request submit after analysis", "analysis", ev.Object.UID, "request", ev.Object.ParentUID, "outcome", res.Outcome)
	return nil
}

// afterRequestSubmit submits every analysis of the request still awaiting it.
func afterRequestSubmit(ctx context.Context, rt *core.Runtime, ev workflow.Event) error {
	if ev.Request.ShouldSkip(ev.Object.UID, ev.Transition) {
		return nil
	}
	analyses, err := committedAnalyses(ctx, rt, ev.Object.UID)
	if err != nil {
		return err
	}
	for _, an := range analyses {
		if isCancelled(an) || !isUnassigned(an) {
			continue
		}
		if _, err := rt.Invoker.DoActionFor(ctx, ev.Request, an.UID, ev.Transition); err != nil {
			return err
		}
	}
	return nil
}

// cascadeToAnalyses fires the same cancellation transition on each analysis.
// Analyses whose guard refuses it are left as they are.
func cascadeToAnalyses(action string) core.HookFunc {
	return func(ctx context.Context, rt *core.Runtime, ev workflow.Event) error {
		if ev.Request.ShouldSkip(ev.Object.UID, action) {
			return nil
		}
		analyses, err := committedAnalyses(ctx, rt, ev.Object.UID)
		if err != nil {
			return err
		}
		for _, an := range analyses {
			res, err := rt.Invoker.DoActionFor(ctx, ev.Request, an.UID, action)
			if err != nil {
				return err
			}
			if !res.Success() {
				logger.Debug("cascade not applied", "analysis", an.UID, "action", action, "outcome", res.Outcome)
			}
		}
		return nil
	}
}

// afterAnalysisRetract adds a retest of the analysis to the request and
// sends the request back to reception.
func afterAnalysisRetract(ctx context.Context, rt *core.Runtime, ev workflow.Event) error {
	src := ev.Object
	retest := domain.Object{
		ID:         src.ID + "-retest",
		PortalType: TypeAnalysis,
		Title:      src.Title,
		ParentUID:  src.ParentUID,
		Attributes: map[string]any{
			AttrRetested: true,
			AttrRetestOf: src.UID,
		},
		LocalRoles: src.LocalRoles,
	}
	if kw := src.StringAttr(AttrKeyword); kw != "" {
		retest.SetAttr(AttrKeyword, kw)
	}
	created, err := rt.Engine.CreateObject(ctx, ev.Request, retest)
	if err != nil {
		return fmt.Errorf("create retest of %s: %w", src.UID, err)
	}
	logger.Info("retest created", "analysis", src.UID, "retest", created.UID)
	if src.ParentUID == "" {
		return nil
	}
	_, err = rt.Invoker.DoActionFor(ctx, ev.Request, src.ParentUID, TransitionRollbackToReceive)
	return err
}

// afterRequestInvalidate creates the retest request. The retest points back
// through Invalidated and receives a fresh copy of every live analysis.
func afterRequestInvalidate(ctx context.Context, rt *core.Runtime, ev workflow.Event) error {
	src := ev.Object
	retest := domain.Object{
		ID:         src.ID + "-R01",
		PortalType: TypeAnalysisRequest,
		Title:      src.Title,
		ParentUID:  src.ParentUID,
		LocalRoles: src.LocalRoles,
	}
	for _, name := range []string{AttrClientUID, "getBatchUID", "getClientOrderNumber"} {
		if v, ok := src.Attr(name); ok {
			retest.SetAttr(name, v)
		}
	}
	retest.SetAttr(AttrInvalidated, src.UID)
	analyses, err := committedAnalyses(ctx, rt, src.UID)
	if err != nil {
		return err
	}
	created, err := rt.Engine.CreateObject(ctx, ev.Request, retest)
	if err != nil {
		return fmt.Errorf("create retest of %s: %w", src.UID, err)
	}
	for _, an := range analyses {
		if isCancelled(an) || an.State(domain.StateFlowReview) == "retracted" {
			continue
		}
		cp := domain.Object{
			ID:         an.ID,
			PortalType: TypeAnalysis,
			Title:      an.Title,
			ParentUID:  created.UID,
		}
		if kw := an.StringAttr(AttrKeyword); kw != "" {
			cp.SetAttr(AttrKeyword, kw)
		}
		if _, err := rt.Engine.CreateObject(ctx, ev.Request, cp); err != nil {
			return err
		}
	}
	logger.Info("request invalidated", "request", src.UID, "retest", created.UID)
	return nil
}
