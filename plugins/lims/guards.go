package lims

import (
	"context"
	"slices"

	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// GuardCancelledObject rejects transitions on cancelled or deactivated objects.
const GuardCancelledObject = "guard_cancelled_object"

const guardHandlerPrefix = "guard_handler:"

// GuardHandler names the guard expression dispatching action by portal type.
func GuardHandler(action string) string { return guardHandlerPrefix + action }

// Attribute names read by guards and hooks.
const (
	AttrResult                = "Result"
	AttrKeyword               = "getKeyword"
	AttrRetested              = "getRetested"
	AttrRetestOf              = "RetestOf"
	AttrClientUID             = "ClientUID"
	AttrParentAnalysisRequest = "ParentAnalysisRequest"
	AttrInvalidated           = "Invalidated"
	AttrReportOption          = "ReportOption"
	AttrTextTitle             = "TextTitle"
)

// preSubmission lists the request states an analysis request may still be
// cancelled from.
var preSubmission = []string{
	string(domain.ReviewToBeSampled),
	string(domain.ReviewScheduledSampling),
	string(domain.ReviewSampled),
	string(domain.ReviewToBePreserved),
	string(domain.ReviewSampleDue),
	string(domain.ReviewSampleReceived),
}

func isCancelled(obj domain.Object) bool {
	return obj.State(domain.StateFlowCancellation) == string(domain.CancellationCancelled)
}

func isInactive(obj domain.Object) bool {
	return obj.State(domain.StateFlowInactive) == string(domain.InactiveInactive)
}

func isUnassigned(obj domain.Object) bool {
	return obj.State(domain.StateFlowReview) == string(domain.ReviewUnassigned)
}

func hasResult(obj domain.Object) bool {
	return obj.StringAttr(AttrResult) != ""
}

// analysesOf returns the analyses contained in the request, ordered by id.
func analysesOf(view domain.TransactionView, arUID string) []domain.Object {
	var out []domain.Object
	for _, obj := range view.ListObjects() {
		if obj.PortalType == TypeAnalysis && obj.ParentUID == arUID {
			out = append(out, obj)
		}
	}
	slices.SortFunc(out, func(a, b domain.Object) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func guardCancelledObject(_ context.Context, gc workflow.GuardContext) bool {
	return !isCancelled(gc.Object) && !isInactive(gc.Object)
}

type portalGuards map[string]func(gc workflow.GuardContext) bool

// dispatch builds a guard that runs the check registered for the object's
// portal type. Types without a check pass.
func (g portalGuards) dispatch() workflow.GuardFunc {
	return func(_ context.Context, gc workflow.GuardContext) bool {
		check, ok := g[gc.Object.PortalType]
		if !ok {
			return true
		}
		return check(gc)
	}
}

// guardSubmit: an analysis needs a result. A request needs at least one live
// analysis, and every live analysis must be submitted or carry a result.
var guardSubmit = portalGuards{
	TypeAnalysis: func(gc workflow.GuardContext) bool {
		return !isCancelled(gc.Object) && hasResult(gc.Object)
	},
	TypeAnalysisRequest: func(gc workflow.GuardContext) bool {
		if isCancelled(gc.Object) {
			return false
		}
		live := 0
		for _, an := range analysesOf(gc.View, gc.Object.UID) {
			if isCancelled(an) {
				continue
			}
			live++
			if isUnassigned(an) && !hasResult(an) {
				return false
			}
		}
		return live > 0
	},
}

var guardCreatePartitions = portalGuards{
	TypeAnalysisRequest: func(gc workflow.GuardContext) bool {
		return !isCancelled(gc.Object) && gc.Object.StringAttr(AttrParentAnalysisRequest) == ""
	},
}

// guardRollbackToReceive passes once the request holds a live analysis
// awaiting results again, typically a retest.
var guardRollbackToReceive = portalGuards{
	TypeAnalysisRequest: func(gc workflow.GuardContext) bool {
		for _, an := range analysesOf(gc.View, gc.Object.UID) {
			if !isCancelled(an) && isUnassigned(an) {
				return true
			}
		}
		return false
	},
}

var guardCancel = portalGuards{
	TypeAnalysisRequest: func(gc workflow.GuardContext) bool {
		return slices.Contains(preSubmission, gc.Object.State(domain.StateFlowReview))
	},
	TypeAnalysis: func(gc workflow.GuardContext) bool {
		return isUnassigned(gc.Object)
	},
}

func guards() map[string]workflow.GuardFunc {
	return map[string]workflow.GuardFunc{
		GuardCancelledObject:                                    guardCancelledObject,
		GuardHandler(string(domain.TransitionSubmit)):           guardSubmit.dispatch(),
		GuardHandler(string(domain.TransitionCancel)):           guardCancel.dispatch(),
		GuardHandler(TransitionRollbackToReceive):               guardRollbackToReceive.dispatch(),
		GuardHandler(string(domain.TransitionCreatePartitions)): guardCreatePartitions.dispatch(),
	}
}
