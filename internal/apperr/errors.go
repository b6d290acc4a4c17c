package apperr

import (
	"errors"

	"familyledger/internal/service"
	"familyledger/internal/validation"
)

// Public messages
const (
	MsgGeneric            = "An error occurred"
	MsgInvalidCredentials = "Invalid email or password"
	MsgUnauthenticated    = "Authentication required"
	MsgRateLimited        = "Too many requests, please try again later"
)

// Error is a public error. Message is safe to show to clients; Cause is
// kept for server-side logs only.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause for error chain traversal
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the status for the error's code
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// New creates a public error with a code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a public error that keeps cause for logging
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Unauthenticated is the error every missing or rejected session maps to
func Unauthenticated(cause error) *Error {
	return Wrap(CodeUnauthenticated, MsgUnauthenticated, cause)
}

// RateLimited is returned when a client exceeds its request budget
func RateLimited() *Error {
	return New(CodeRateLimited, MsgRateLimited)
}

// authFailures are auth workflow outcomes reported as the operation's
// *_FAILED code with the generic message
var authFailures = []error{
	service.ErrUserExists,
	service.ErrUserNotFound,
	service.ErrInvalidInviteCode,
	service.ErrInviteOnly,
	service.ErrInvalidCredentials,
	service.ErrInvalidToken,
	service.ErrInvalidOrExpiredToken,
	service.ErrAlreadyVerified,
	service.ErrSameEmail,
	service.ErrEmailTaken,
	service.ErrStaleToken,
	service.ErrOwnerMustTransfer,
}

type publicError struct {
	err     error
	code    Code
	message string
}

// membershipErrors maps family workflow outcomes to public codes. An empty
// code means the operation's *_FAILED code.
var membershipErrors = []publicError{
	{service.ErrNotOwner, CodeForbidden, "Only the family owner can do this"},
	{service.ErrInsufficientRole, CodeForbidden, "Your role does not allow this action"},
	{service.ErrUserNotFound, CodeNotFound, "User not found"},
	{service.ErrFamilyNotFound, CodeNotFound, "Family not found"},
	{service.ErrJoinRequestNotFound, CodeNotFound, "Join request not found"},
	{service.ErrMemberNotFound, CodeNotFound, "Member not found"},
	{service.ErrAlreadyInFamily, CodeConflict, "You already belong to a family"},
	{service.ErrAlreadyMember, CodeConflict, "This user is already a member of your family"},
	{service.ErrAlreadyElsewhere, CodeConflict, "This user already belongs to another family"},
	{service.ErrDuplicateRequest, CodeConflict, "You already have a pending request for this family"},
	{service.ErrAlreadyProcessed, CodeConflict, "This join request has already been processed"},
	{service.ErrOwnerRoleNotAssignable, "", "The owner role cannot be assigned"},
	{service.ErrInvalidRole, "", "Invalid role"},
	{service.ErrInvalidResponse, "", "Response must be APPROVE or REJECT"},
	{service.ErrCannotRemoveOwner, "", "The family owner cannot be removed"},
	{service.ErrOwnerMustTransfer, "", "Transfer ownership before leaving the family"},
	{service.ErrInvalidTransfer, "", "Ownership can only be transferred to another member"},
	{service.ErrNotInFamily, "", "You are not in a family"},
	{service.ErrInvalidInviteCode, "", "Invalid invite code"},
	{service.ErrInvitationMismatch, "", "This invitation was sent to a different email address"},
	{service.ErrInvalidOrExpiredToken, "", "Invalid or expired invitation"},
}

// Translate maps an error returned by a service operation to the public
// error sent to the client. Unknown errors become INTERNAL_SERVER_ERROR.
func Translate(op Op, err error) *Error {
	if err == nil {
		return nil
	}

	var pub *Error
	if errors.As(err, &pub) {
		return pub
	}

	var vErr validation.ValidationError
	if errors.As(err, &vErr) {
		return Wrap(CodeValidation, vErr.Message, err)
	}

	switch op {
	case OpLogin:
		if errors.Is(err, service.ErrInvalidCredentials) {
			return Wrap(CodeLoginFailed, MsgInvalidCredentials, err)
		}
	case OpAuthenticate, OpRefresh:
		if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrUserNotFound) {
			return Unauthenticated(err)
		}
	}

	if op.isAuthOp() {
		for _, known := range authFailures {
			if errors.Is(err, known) {
				return Wrap(op.failureCode(), MsgGeneric, err)
			}
		}
		return Wrap(CodeInternal, MsgGeneric, err)
	}

	for _, known := range membershipErrors {
		if errors.Is(err, known.err) {
			code := known.code
			if code == "" {
				code = op.failureCode()
			}
			return Wrap(code, known.message, err)
		}
	}
	return Wrap(CodeInternal, MsgGeneric, err)
}
