package lims

import "limscore/pkg/domain"

// Workflow identifiers.
const (
	ARWorkflowID           = "bika_ar_workflow"
	AnalysisWorkflowID     = "bika_analysis_workflow"
	CancellationWorkflowID = "bika_cancellation_workflow"
	InactiveWorkflowID     = "bika_inactive_workflow"
	BatchWorkflowID        = "bika_batch_workflow"
)

// Portal types.
const (
	TypeAnalysisRequest = "AnalysisRequest"
	TypeAnalysis        = "Analysis"
	TypeAttachment      = "Attachment"
	TypeBatch           = "Batch"
	TypeClient          = "Client"
	TypeSamplePoint     = "SamplePoint"
	TypeARTemplate      = "ARTemplate"
	TypeAnalysisProfile = "AnalysisProfile"
	TypeAnalysisSpec    = "AnalysisSpec"
)

// Permissions managed by the LIMS workflows.
const (
	PermView        = "View"
	PermEditResults = "BIKA: Edit Results"
	PermReceive     = "BIKA: Receive Sample"
	PermVerify      = "BIKA: Verify"
	PermPublish     = "BIKA: Publish"
	PermRetract     = "BIKA: Retract"
	PermCancel      = "BIKA: Cancel and reinstate"
)

// Roles.
const (
	RoleManager    = "Manager"
	RoleLabManager = "LabManager"
	RoleLabClerk   = "LabClerk"
	RoleAnalyst    = "Analyst"
	RoleSampler    = "Sampler"
	RoleOwner      = "Owner"
)

// Transitions not covered by the shared review vocabulary.
const (
	TransitionRollbackToReceive = "rollback_to_receive"
)

var (
	viewers   = []string{RoleManager, RoleLabManager, RoleLabClerk, RoleAnalyst, RoleSampler, RoleOwner}
	labStaff  = []string{RoleManager, RoleLabManager, RoleLabClerk}
	analysts  = []string{RoleManager, RoleLabManager, RoleAnalyst}
	verifiers = []string{RoleManager, RoleLabManager}
)

func roles(r ...string) []string { return append([]string(nil), r...) }

func state(id, title string, transitions []string, perms map[string][]string) *domain.State {
	return &domain.State{ID: id, Title: title, Transitions: transitions, Permissions: perms}
}

func transition(id, title, target string, guard *domain.Guard) *domain.Transition {
	return &domain.Transition{ID: id, Title: title, NewStateID: target, ActboxName: title, Guard: guard}
}

func guard(expr string, perms ...string) *domain.Guard {
	return &domain.Guard{Permissions: perms, Expression: expr}
}

func ids[T ~string](values ...T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// ARWorkflow returns the review workflow of analysis requests.
func ARWorkflow() domain.Workflow {
	pre := func() map[string][]string {
		return map[string][]string{
			PermView:        roles(viewers...),
			PermReceive:     roles(labStaff...),
			PermEditResults: nil,
			PermVerify:      nil,
			PermRetract:     nil,
		}
	}
	received := pre()
	received[PermEditResults] = roles(analysts...)
	toBeVerified := pre()
	toBeVerified[PermVerify] = roles(verifiers...)
	done := pre()
	done[PermRetract] = roles(verifiers...)
	invalid := pre()
	invalid[PermView] = roles(RoleManager, RoleLabManager, RoleOwner)

	return domain.Workflow{
		ID:            ARWorkflowID,
		Title:         "Analysis request workflow",
		StateVariable: domain.StateFlowReview,
		InitialState:  string(domain.ReviewSampleDue),
		States: map[string]*domain.State{
			string(domain.ReviewToBeSampled): state(string(domain.ReviewToBeSampled), "To be sampled",
				ids(domain.TransitionSample, domain.TransitionScheduleSampling), pre()),
			string(domain.ReviewScheduledSampling): state(string(domain.ReviewScheduledSampling), "Scheduled sampling",
				ids(domain.TransitionSample), pre()),
			string(domain.ReviewSampled): state(string(domain.ReviewSampled), "Sampled",
				ids(domain.TransitionReceive), pre()),
			string(domain.ReviewToBePreserved): state(string(domain.ReviewToBePreserved), "To be preserved",
				ids(domain.TransitionPreserve), pre()),
			string(domain.ReviewSampleDue): state(string(domain.ReviewSampleDue), "Sample due",
				ids(domain.TransitionReceive), pre()),
			string(domain.ReviewSampleReceived): state(string(domain.ReviewSampleReceived), "Received",
				ids(domain.TransitionSubmit, domain.TransitionCreatePartitions), received),
			string(domain.ReviewToBeVerified): state(string(domain.ReviewToBeVerified), "To be verified",
				[]string{string(domain.TransitionVerify), TransitionRollbackToReceive}, toBeVerified),
			string(domain.ReviewVerified): state(string(domain.ReviewVerified), "Verified",
				ids(domain.TransitionPublish, domain.TransitionInvalidate), done),
			string(domain.ReviewPublished): state(string(domain.ReviewPublished), "Published",
				ids(domain.TransitionInvalidate), done),
			string(domain.ReviewInvalid): state(string(domain.ReviewInvalid), "Invalid", nil, invalid),
		},
		Transitions: map[string]*domain.Transition{
			string(domain.TransitionSample): transition(string(domain.TransitionSample), "Sample",
				string(domain.ReviewSampled), nil),
			string(domain.TransitionScheduleSampling): transition(string(domain.TransitionScheduleSampling), "Schedule sampling",
				string(domain.ReviewScheduledSampling), nil),
			string(domain.TransitionPreserve): transition(string(domain.TransitionPreserve), "Preserve",
				string(domain.ReviewSampleDue), nil),
			string(domain.TransitionReceive): transition(string(domain.TransitionReceive), "Receive",
				string(domain.ReviewSampleReceived), guard(GuardCancelledObject, PermReceive)),
			string(domain.TransitionSubmit): transition(string(domain.TransitionSubmit), "Submit",
				string(domain.ReviewToBeVerified), guard(GuardHandler(string(domain.TransitionSubmit)))),
			string(domain.TransitionVerify): transition(string(domain.TransitionVerify), "Verify",
				string(domain.ReviewVerified), guard(GuardCancelledObject, PermVerify)),
			string(domain.TransitionPublish): transition(string(domain.TransitionPublish), "Publish",
				string(domain.ReviewPublished), guard(GuardCancelledObject)),
			string(domain.TransitionInvalidate): transition(string(domain.TransitionInvalidate), "Invalidate",
				string(domain.ReviewInvalid), guard(GuardCancelledObject, PermRetract)),
			string(domain.TransitionCreatePartitions): transition(string(domain.TransitionCreatePartitions), "Create partitions",
				string(domain.ReviewSampleReceived), guard(GuardHandler(string(domain.TransitionCreatePartitions)), PermEditResults)),
			TransitionRollbackToReceive: transition(TransitionRollbackToReceive, "Rollback to received",
				string(domain.ReviewSampleReceived), guard(GuardHandler(TransitionRollbackToReceive))),
		},
	}
}

// AnalysisWorkflow returns the review workflow of routine analyses.
func AnalysisWorkflow() domain.Workflow {
	perms := func(edit, verify, retract []string) map[string][]string {
		return map[string][]string{
			PermView:        roles(viewers...),
			PermEditResults: edit,
			PermVerify:      verify,
			PermRetract:     retract,
		}
	}
	return domain.Workflow{
		ID:            AnalysisWorkflowID,
		Title:         "Analysis workflow",
		StateVariable: domain.StateFlowReview,
		InitialState:  string(domain.ReviewUnassigned),
		States: map[string]*domain.State{
			string(domain.ReviewUnassigned): state(string(domain.ReviewUnassigned), "Unassigned",
				ids(domain.TransitionSubmit), perms(roles(analysts...), nil, nil)),
			string(domain.ReviewToBeVerified): state(string(domain.ReviewToBeVerified), "To be verified",
				ids(domain.TransitionVerify, domain.TransitionRetract), perms(nil, roles(verifiers...), roles(analysts...))),
			string(domain.ReviewVerified): state(string(domain.ReviewVerified), "Verified",
				ids(domain.TransitionPublish), perms(nil, nil, nil)),
			string(domain.ReviewPublished): state(string(domain.ReviewPublished), "Published", nil, perms(nil, nil, nil)),
			"retracted":                    state("retracted", "Retracted", nil, perms(nil, nil, nil)),
		},
		Transitions: map[string]*domain.Transition{
			string(domain.TransitionSubmit): transition(string(domain.TransitionSubmit), "Submit",
				string(domain.ReviewToBeVerified), guard(GuardHandler(string(domain.TransitionSubmit)), PermEditResults)),
			string(domain.TransitionVerify): transition(string(domain.TransitionVerify), "Verify",
				string(domain.ReviewVerified), guard(GuardCancelledObject, PermVerify)),
			string(domain.TransitionRetract): transition(string(domain.TransitionRetract), "Retract",
				"retracted", guard(GuardCancelledObject, PermRetract)),
			string(domain.TransitionPublish): transition(string(domain.TransitionPublish), "Publish",
				string(domain.ReviewPublished), nil),
		},
	}
}

// CancellationWorkflow returns the cancellation flow shared by requests and
// analyses.
func CancellationWorkflow() domain.Workflow {
	perms := map[string][]string{PermCancel: roles(labStaff...)}
	clone := func() map[string][]string {
		return map[string][]string{PermCancel: roles(perms[PermCancel]...)}
	}
	return domain.Workflow{
		ID:            CancellationWorkflowID,
		Title:         "Cancellation workflow",
		StateVariable: domain.StateFlowCancellation,
		InitialState:  string(domain.CancellationActive),
		States: map[string]*domain.State{
			string(domain.CancellationActive): state(string(domain.CancellationActive), "Active",
				ids(domain.TransitionCancel), clone()),
			string(domain.CancellationCancelled): state(string(domain.CancellationCancelled), "Cancelled",
				ids(domain.TransitionReinstate), clone()),
		},
		Transitions: map[string]*domain.Transition{
			string(domain.TransitionCancel): transition(string(domain.TransitionCancel), "Cancel",
				string(domain.CancellationCancelled), guard(GuardHandler(string(domain.TransitionCancel)), PermCancel)),
			string(domain.TransitionReinstate): transition(string(domain.TransitionReinstate), "Reinstate",
				string(domain.CancellationActive), guard("", PermCancel)),
		},
	}
}

// InactiveWorkflow returns the activation flow of clients and setup items.
func InactiveWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:            InactiveWorkflowID,
		Title:         "Activation workflow",
		StateVariable: domain.StateFlowInactive,
		InitialState:  string(domain.InactiveActive),
		States: map[string]*domain.State{
			string(domain.InactiveActive): state(string(domain.InactiveActive), "Active",
				ids(domain.TransitionDeactivate), map[string][]string{PermView: roles(viewers...)}),
			string(domain.InactiveInactive): state(string(domain.InactiveInactive), "Inactive",
				ids(domain.TransitionActivate), map[string][]string{PermView: roles(RoleManager, RoleLabManager, RoleOwner)}),
		},
		Transitions: map[string]*domain.Transition{
			string(domain.TransitionDeactivate): transition(string(domain.TransitionDeactivate), "Deactivate",
				string(domain.InactiveInactive), guard("", PermView)),
			string(domain.TransitionActivate): transition(string(domain.TransitionActivate), "Activate",
				string(domain.InactiveActive), guard("", PermView)),
		},
	}
}

// BatchWorkflow returns the batch review flow.
func BatchWorkflow() domain.Workflow {
	view := func() map[string][]string { return map[string][]string{PermView: roles(viewers...)} }
	return domain.Workflow{
		ID:            BatchWorkflowID,
		Title:         "Batch workflow",
		StateVariable: domain.StateFlowReview,
		InitialState:  string(domain.BatchOpen),
		States: map[string]*domain.State{
			string(domain.BatchOpen): state(string(domain.BatchOpen), "Open",
				ids(domain.TransitionBatchClose, domain.TransitionBatchCancel), view()),
			string(domain.BatchClosed): state(string(domain.BatchClosed), "Closed",
				ids(domain.TransitionBatchOpen), view()),
			string(domain.BatchCancelled): state(string(domain.BatchCancelled), "Cancelled",
				ids(domain.TransitionBatchReinstate), view()),
		},
		Transitions: map[string]*domain.Transition{
			string(domain.TransitionBatchClose): transition(string(domain.TransitionBatchClose), "Close",
				string(domain.BatchClosed), nil),
			string(domain.TransitionBatchOpen): transition(string(domain.TransitionBatchOpen), "Open",
				string(domain.BatchOpen), nil),
			string(domain.TransitionBatchCancel): transition(string(domain.TransitionBatchCancel), "Cancel",
				string(domain.BatchCancelled), nil),
			string(domain.TransitionBatchReinstate): transition(string(domain.TransitionBatchReinstate), "Reinstate",
				string(domain.BatchOpen), nil),
		},
	}
}
