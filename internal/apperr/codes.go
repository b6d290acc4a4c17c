// Package apperr is the boundary between internal errors and what API
// clients see: a small, stable set of codes with safe messages.
package apperr

import "net/http"

// Code is a machine-readable error code returned to clients
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL_SERVER_ERROR"

	// Operation failures
	CodeRegisterFailed       Code = "REGISTER_FAILED"
	CodeLoginFailed          Code = "LOGIN_FAILED"
	CodeVerifyEmailFailed    Code = "VERIFY_EMAIL_FAILED"
	CodeResetPasswordFailed  Code = "RESET_PASSWORD_FAILED"
	CodeChangePasswordFailed Code = "CHANGE_PASSWORD_FAILED"
	CodeEmailChangeFailed    Code = "EMAIL_CHANGE_FAILED"
	CodeRefreshFailed        Code = "REFRESH_FAILED"
	CodeDeactivateFailed     Code = "DEACTIVATE_FAILED"
	CodeFamilyFailed         Code = "FAMILY_FAILED"
	CodeInviteFailed         Code = "INVITE_FAILED"
	CodeJoinRequestFailed    Code = "JOIN_REQUEST_FAILED"
)

// HTTPStatus maps a code to the status used on the wire
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Op names the operation an error came from. It selects the *_FAILED code
// for domain failures that have no more specific public code.
type Op string

const (
	OpRegister       Op = "register"
	OpLogin          Op = "login"
	OpAuthenticate   Op = "authenticate"
	OpRefresh        Op = "refresh"
	OpVerifyEmail    Op = "verify_email"
	OpResetPassword  Op = "reset_password"
	OpChangePassword Op = "change_password"
	OpEmailChange    Op = "email_change"
	OpDeactivate     Op = "deactivate"
	OpFamily         Op = "family"
	OpInvite         Op = "invite"
	OpJoinRequest    Op = "join_request"
)

func (op Op) failureCode() Code {
	switch op {
	case OpRegister:
		return CodeRegisterFailed
	case OpLogin:
		return CodeLoginFailed
	case OpAuthenticate:
		return CodeUnauthenticated
	case OpRefresh:
		return CodeRefreshFailed
	case OpVerifyEmail:
		return CodeVerifyEmailFailed
	case OpResetPassword:
		return CodeResetPasswordFailed
	case OpChangePassword:
		return CodeChangePasswordFailed
	case OpEmailChange:
		return CodeEmailChangeFailed
	case OpDeactivate:
		return CodeDeactivateFailed
	case OpInvite:
		return CodeInviteFailed
	case OpJoinRequest:
		return CodeJoinRequestFailed
	default:
		return CodeFamilyFailed
	}
}

// isAuthOp reports whether op belongs to the auth workflow, whose failures
// are all reported with the same generic message
func (op Op) isAuthOp() bool {
	switch op {
	case OpFamily, OpInvite, OpJoinRequest:
		return false
	}
	return true
}
