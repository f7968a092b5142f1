package models

// StateError reports an operation that is not valid in the current state of
// a recipe, revision or approval request. Errors with the same Code match
// under errors.Is regardless of message.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// Is matches any StateError with the same code. ErrStateViolation, which has
// no code, matches every StateError.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func (e *StateError) withMessage(msg string) *StateError {
	return &StateError{Code: e.Code, Message: msg}
}

// State errors.
var (
	ErrStateViolation = &StateError{Message: "invalid state transition"}

	ErrAlreadyHasRequest = &StateError{
		Code:    "already_has_request",
		Message: "This revision already has an approval request.",
	}
	ErrNotActionable = &StateError{
		Code:    "not_actionable",
		Message: "This approval request has already been approved or rejected.",
	}
	ErrCannotActOnOwnRequest = &StateError{
		Code:    "cannot_act_on_own_request",
		Message: "You cannot approve or reject your own approval request.",
	}
	ErrNotApproved = &StateError{
		Code:    "not_approved",
		Message: "Cannot enable a recipe that is not approved.",
	}
	ErrNoApprovalRequest = &StateError{
		Code:    "no_approval_request",
		Message: "This revision has no approval request.",
	}
	ErrSignatureMustChangeAlone = &StateError{
		Code:    "signature_must_change_alone",
		Message: "Signatures must change alone.",
	}
	ErrStaleSignature = &StateError{
		Code:    "stale_signature",
		Message: "Signed content may not change while the signature is kept.",
	}
)

var (
	errAlreadyEnabled     = ErrNotActionable.withMessage("This revision is already enabled.")
	errAlreadyDisabled    = ErrNotActionable.withMessage("This revision is already disabled.")
	errDisableNotApproved = ErrNotApproved.withMessage("Cannot disable a recipe that is not approved.")
)
