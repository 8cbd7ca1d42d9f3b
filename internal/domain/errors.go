package domain

import "errors"

var (
	// ErrInvalidConfiguration is returned when a session cannot be scheduled as configured.
	ErrInvalidConfiguration = errors.New("invalid session configuration")
	// ErrIllegalTransition is returned for a lifecycle transition from a non-adjacent state.
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrAlreadyStarted is returned when a start is requested twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionNotActive rejects submissions outside the active state.
	ErrSessionNotActive = errors.New("session not active")
	// ErrDeadlineExceeded rejects submissions received after the question deadline plus grace.
	ErrDeadlineExceeded = errors.New("question deadline exceeded")
	// ErrDuplicateSubmission rejects a second submission for the same participant and question.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrStoreUnavailable marks a transient persistence failure; callers may retry.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrChannelDeliveryFailed marks a participant channel that could not take an event.
	ErrChannelDeliveryFailed = errors.New("channel delivery failed")

	// ErrSessionNotFound is returned when a quiz session is unknown.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrQuestionNotOpen rejects answers for questions that have not been activated yet.
	ErrQuestionNotOpen = errors.New("question not open")
	// ErrInvalidAnswer indicates the answer payload does not fit the question type.
	ErrInvalidAnswer = errors.New("invalid answer payload")
	// ErrJoinClosed rejects joins outside the scheduled and active states.
	ErrJoinClosed = errors.New("session not accepting participants")
	// ErrNotOwner is returned when another instance holds the live session.
	ErrNotOwner = errors.New("session owned by another instance")
)

// Reason codes reported to clients for rejected operations.
const (
	ReasonInvalidConfiguration = "INVALID_CONFIGURATION"
	ReasonIllegalTransition    = "ILLEGAL_TRANSITION"
	ReasonAlreadyStarted       = "ALREADY_STARTED"
	ReasonSessionNotActive     = "SESSION_NOT_ACTIVE"
	ReasonDeadlineExceeded     = "DEADLINE_EXCEEDED"
	ReasonDuplicateSubmission  = "DUPLICATE_SUBMISSION"
	ReasonStoreUnavailable     = "STORE_UNAVAILABLE"
	ReasonSessionNotFound      = "SESSION_NOT_FOUND"
	ReasonParticipantNotFound  = "PARTICIPANT_NOT_FOUND"
	ReasonQuestionNotFound     = "QUESTION_NOT_FOUND"
	ReasonQuestionNotOpen      = "QUESTION_NOT_OPEN"
	ReasonInvalidAnswer        = "INVALID_ANSWER"
	ReasonJoinClosed           = "JOIN_CLOSED"
	ReasonNotOwner             = "NOT_OWNER"
	ReasonInternal             = "INTERNAL"
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidConfiguration, ReasonInvalidConfiguration},
	{ErrAlreadyStarted, ReasonAlreadyStarted},
	{ErrIllegalTransition, ReasonIllegalTransition},
	{ErrSessionNotActive, ReasonSessionNotActive},
	{ErrDeadlineExceeded, ReasonDeadlineExceeded},
	{ErrDuplicateSubmission, ReasonDuplicateSubmission},
	{ErrStoreUnavailable, ReasonStoreUnavailable},
	{ErrSessionNotFound, ReasonSessionNotFound},
	{ErrParticipantNotFound, ReasonParticipantNotFound},
	{ErrQuestionNotFound, ReasonQuestionNotFound},
	{ErrQuestionNotOpen, ReasonQuestionNotOpen},
	{ErrInvalidAnswer, ReasonInvalidAnswer},
	{ErrJoinClosed, ReasonJoinClosed},
	{ErrNotOwner, ReasonNotOwner},
}

// ReasonCode maps an error onto its client-facing reason code.
func ReasonCode(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ReasonInternal
}

// IsRejection reports whether err is a legitimate submission rejection
// rather than a fault. Rejections are never retried.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSessionNotActive) ||
		errors.Is(err, ErrDeadlineExceeded) ||
		errors.Is(err, ErrDuplicateSubmission) ||
		errors.Is(err, ErrQuestionNotOpen) ||
		errors.Is(err, ErrInvalidAnswer)
}
