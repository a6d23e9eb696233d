package domain

// StateVariable names the object attribute a workflow stores its state in.
// Each lifecycle flow (review, inactive, cancellation) has its own variable.
type StateVariable string

// Canonical state variables.
const (
	StateFlowReview            StateVariable = "review_state"
	StateFlowInactive          StateVariable = "inactive_state"
	StateFlowCancellation      StateVariable = "cancellation_state"
	StateFlowWorksheetAnalysis StateVariable = "worksheetanalysis_review_state"
)

// StateVariables lists every known state variable.
func StateVariables() []StateVariable {
	return []StateVariable{StateFlowReview, StateFlowInactive, StateFlowCancellation, StateFlowWorksheetAnalysis}
}

// Valid reports whether v is a known state variable.
func (v StateVariable) Valid() bool {
	for _, known := range StateVariables() {
		if v == known {
			return true
		}
	}
	return false
}

func (v StateVariable) String() string { return string(v) }

// ReviewState enumerates the review flow states of samples and analyses.
type ReviewState string

// Review flow states.
const (
	ReviewSampleRegistered  ReviewState = "sample_registered"
	ReviewScheduledSampling ReviewState = "scheduled_sampling"
	ReviewToBeSampled       ReviewState = "to_be_sampled"
	ReviewSampled           ReviewState = "sampled"
	ReviewToBePreserved     ReviewState = "to_be_preserved"
	ReviewSampleDue         ReviewState = "sample_due"
	ReviewSampleReceived    ReviewState = "sample_received"
	ReviewAttachmentDue     ReviewState = "attachment_due"
	ReviewToBeVerified      ReviewState = "to_be_verified"
	ReviewVerified          ReviewState = "verified"
	ReviewPublished         ReviewState = "published"
	ReviewInvalid           ReviewState = "invalid"
	ReviewRejected          ReviewState = "rejected"
	ReviewUnassigned        ReviewState = "unassigned"
	ReviewAssigned          ReviewState = "assigned"
)

// ReviewStates lists the closed set of review states.
func ReviewStates() []ReviewState {
	return []ReviewState{
		ReviewSampleRegistered, ReviewScheduledSampling, ReviewToBeSampled, ReviewSampled,
		ReviewToBePreserved, ReviewSampleDue, ReviewSampleReceived, ReviewAttachmentDue,
		ReviewToBeVerified, ReviewVerified, ReviewPublished, ReviewInvalid, ReviewRejected,
		ReviewUnassigned, ReviewAssigned,
	}
}

// Valid reports whether s belongs to the review vocabulary.
func (s ReviewState) Valid() bool { return contains(ReviewStates(), s) }

func (s ReviewState) String() string { return string(s) }

// InactiveState enumerates the activation flow states.
type InactiveState string

// Activation flow states.
const (
	InactiveActive   InactiveState = "active"
	InactiveInactive InactiveState = "inactive"
)

// InactiveStates lists the closed set of activation states.
func InactiveStates() []InactiveState { return []InactiveState{InactiveActive, InactiveInactive} }

// Valid reports whether s belongs to the activation vocabulary.
func (s InactiveState) Valid() bool { return contains(InactiveStates(), s) }

func (s InactiveState) String() string { return string(s) }

// CancellationState enumerates the cancellation flow states.
type CancellationState string

// Cancellation flow states.
const (
	CancellationActive    CancellationState = "active"
	CancellationCancelled CancellationState = "cancelled"
)

// CancellationStates lists the closed set of cancellation states.
func CancellationStates() []CancellationState {
	return []CancellationState{CancellationActive, CancellationCancelled}
}

// Valid reports whether s belongs to the cancellation vocabulary.
func (s CancellationState) Valid() bool { return contains(CancellationStates(), s) }

func (s CancellationState) String() string { return string(s) }

// BatchState enumerates batch review states.
type BatchState string

// Batch states.
const (
	BatchOpen      BatchState = "open"
	BatchClosed    BatchState = "closed"
	BatchCancelled BatchState = "cancelled"
)

// BatchStates lists the closed set of batch states.
func BatchStates() []BatchState { return []BatchState{BatchOpen, BatchClosed, BatchCancelled} }

// Valid reports whether s belongs to the batch vocabulary.
func (s BatchState) Valid() bool { return contains(BatchStates(), s) }

func (s BatchState) String() string { return string(s) }

// ReviewTransition enumerates review flow transition ids.
type ReviewTransition string

// Review flow transitions. RetractAR is the legacy id replaced by Invalidate in 1.2.9.
const (
	TransitionSample           ReviewTransition = "sample"
	TransitionScheduleSampling ReviewTransition = "schedule_sampling"
	TransitionPreserve         ReviewTransition = "preserve"
	TransitionReceive          ReviewTransition = "receive"
	TransitionSubmit           ReviewTransition = "submit"
	TransitionRetract          ReviewTransition = "retract"
	TransitionVerify           ReviewTransition = "verify"
	TransitionPublish          ReviewTransition = "publish"
	TransitionInvalidate       ReviewTransition = "invalidate"
	TransitionRetractAR        ReviewTransition = "retract_ar"
	TransitionCreatePartitions ReviewTransition = "create_partitions"
	TransitionReject           ReviewTransition = "reject"
	TransitionAssign           ReviewTransition = "assign"
	TransitionUnassign         ReviewTransition = "unassign"
	TransitionAttach           ReviewTransition = "attach"
)

// ReviewTransitions lists the closed set of review transitions.
func ReviewTransitions() []ReviewTransition {
	return []ReviewTransition{
		TransitionSample, TransitionScheduleSampling, TransitionPreserve, TransitionReceive,
		TransitionSubmit, TransitionRetract, TransitionVerify, TransitionPublish,
		TransitionInvalidate, TransitionRetractAR, TransitionCreatePartitions, TransitionReject,
		TransitionAssign, TransitionUnassign, TransitionAttach,
	}
}

// Valid reports whether t belongs to the review transition vocabulary.
func (t ReviewTransition) Valid() bool { return contains(ReviewTransitions(), t) }

func (t ReviewTransition) String() string { return string(t) }

// CancellationTransition enumerates cancellation flow transitions.
type CancellationTransition string

// Cancellation transitions.
const (
	TransitionCancel    CancellationTransition = "cancel"
	TransitionReinstate CancellationTransition = "reinstate"
)

// CancellationTransitions lists the closed set of cancellation transitions.
func CancellationTransitions() []CancellationTransition {
	return []CancellationTransition{TransitionCancel, TransitionReinstate}
}

// Valid reports whether t belongs to the cancellation transition vocabulary.
func (t CancellationTransition) Valid() bool { return contains(CancellationTransitions(), t) }

func (t CancellationTransition) String() string { return string(t) }

// InactiveTransition enumerates activation flow transitions.
type InactiveTransition string

// Activation transitions.
const (
	TransitionActivate   InactiveTransition = "activate"
	TransitionDeactivate InactiveTransition = "deactivate"
)

// InactiveTransitions lists the closed set of activation transitions.
func InactiveTransitions() []InactiveTransition {
	return []InactiveTransition{TransitionActivate, TransitionDeactivate}
}

// Valid reports whether t belongs to the activation transition vocabulary.
func (t InactiveTransition) Valid() bool { return contains(InactiveTransitions(), t) }

func (t InactiveTransition) String() string { return string(t) }

// BatchTransition enumerates batch transitions.
type BatchTransition string

// Batch transitions.
const (
	TransitionBatchOpen      BatchTransition = "open"
	TransitionBatchClose     BatchTransition = "close"
	TransitionBatchCancel    BatchTransition = "cancel"
	TransitionBatchReinstate BatchTransition = "reinstate"
)

// BatchTransitions lists the closed set of batch transitions.
func BatchTransitions() []BatchTransition {
	return []BatchTransition{TransitionBatchOpen, TransitionBatchClose, TransitionBatchCancel, TransitionBatchReinstate}
}

// Valid reports whether t belongs to the batch transition vocabulary.
func (t BatchTransition) Valid() bool { return contains(BatchTransitions(), t) }

func (t BatchTransition) String() string { return string(t) }

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
