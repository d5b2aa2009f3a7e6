package workflow

import (
	"errors"
	"fmt"
)

// Kind markers. Every workflow error unwraps to exactly one of these so
// callers can classify without knowing the specific error.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrSequence   = errors.New("sequence error")
	ErrTerminal   = errors.New("terminal state")
	ErrPolicy     = errors.New("policy violation")
)

// Error is a named workflow failure. Code is stable and safe to return to
// API clients.
type Error struct {
	Code string
	msg  string
	kind error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, code, msg string) *Error {
	return &Error{Code: code, msg: msg, kind: kind}
}

var (
	ErrInvalidDecisionValue  = newError(ErrValidation, "InvalidDecisionValue", "invalid decision value")
	ErrInvalidCategory       = newError(ErrValidation, "InvalidCategory", "invalid or missing category")
	ErrInvalidPunchlistDraft = newError(ErrValidation, "InvalidPunchlistDraft", "invalid punchlist draft")
	ErrInvalidChecklistItem  = newError(ErrValidation, "InvalidChecklistItem", "invalid checklist item")
	ErrInvalidSubmission     = newError(ErrValidation, "InvalidSubmission", "invalid submission")

	ErrDocumentNotFound      = newError(ErrNotFound, "DocumentNotFound", "document not found")
	ErrStageNotFound         = newError(ErrNotFound, "StageNotFound", "stage not found")
	ErrPunchlistItemNotFound = newError(ErrNotFound, "PunchlistItemNotFound", "punchlist item not found")

	ErrForbiddenRole       = newError(ErrForbidden, "ForbiddenRole", "role not permitted for this action")
	ErrSegregationOfDuties = newError(ErrForbidden, "SegregationOfDuties", "verifier role must differ from the completer role")

	ErrStageNotPending            = newError(ErrSequence, "StageNotPending", "stage is not pending")
	ErrStageAlreadyDecided        = newError(ErrSequence, "StageAlreadyDecided", "stage already decided")
	ErrWorkflowAlreadyInitialized = newError(ErrSequence, "WorkflowAlreadyInitialized", "workflow already initialized")
	ErrDocumentControlPending     = newError(ErrSequence, "DocumentControlPending", "document control review has not approved this document")
	ErrInvalidStageSequence       = newError(ErrSequence, "InvalidStageSequence", "previous stage is not completed")
	ErrUnknownWorkflowPath        = newError(ErrSequence, "UnknownWorkflowPath", "no catalog entry for workflow path")
	ErrInvalidPunchlistTransition = newError(ErrSequence, "InvalidPunchlistTransition", "punchlist transition not allowed")

	ErrDocumentNotInReview = newError(ErrTerminal, "DocumentNotInReview", "document is not in review")

	ErrUnresolvedBlockingPunchlist = newError(ErrPolicy, "UnresolvedBlockingPunchlist", "blocking punchlist items are unresolved")
)

// Kind returns the classification of err: validation, not_found, forbidden,
// sequence, terminal, policy or internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSequence):
		return "sequence"
	case errors.Is(err, ErrTerminal):
		return "terminal"
	case errors.Is(err, ErrPolicy):
		return "policy"
	}
	return "internal"
}

// Code returns the stable error code, or "" for errors that are not
// workflow errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func detail(err *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}
