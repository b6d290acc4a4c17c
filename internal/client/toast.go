// Package client is the API client used by familyledger front ends. Its
// Guard attaches the session token to outgoing requests and turns error
// responses into toasts, forcing a logout when the session is rejected.
package client

import (
	"net/http"
	"time"

	"familyledger/internal/apperr"
)

// Class groups error responses that share a user-facing reaction
type Class string

const (
	ClassNone        Class = ""
	ClassAuth        Class = "auth"
	ClassForbidden   Class = "forbidden"
	ClassRateLimited Class = "rate_limited"
	ClassRetryable   Class = "retryable"
	ClassError       Class = "error"
)

// Classify maps a response status and error code to a Class. The code wins
// over the status when both are known.
func Classify(status int, code apperr.Code) Class {
	switch {
	case code == apperr.CodeUnauthenticated || status == http.StatusUnauthorized:
		return ClassAuth
	case code == apperr.CodeForbidden || status == http.StatusForbidden:
		return ClassForbidden
	case code == apperr.CodeRateLimited || status == http.StatusTooManyRequests:
		return ClassRateLimited
	case code == apperr.CodeInternal || status >= http.StatusInternalServerError:
		return ClassRetryable
	case status >= http.StatusBadRequest || code != "":
		return ClassError
	}
	return ClassNone
}

// ToastKind selects how a toast is presented
type ToastKind string

const (
	ToastInfo    ToastKind = "info"
	ToastWarning ToastKind = "warning"
	ToastError   ToastKind = "error"
)

// Toast is a transient notice shown to the user
type Toast struct {
	Kind      ToastKind
	Class     Class
	Code      apperr.Code
	Message   string
	Duration  time.Duration
	Retryable bool
}

const (
	msgSessionExpired = "Your session has expired. Please sign in again."
	msgForbidden      = "You don't have permission to do that."
	msgRateLimited    = "Too many attempts. Please wait a moment and try again."
	msgUnavailable    = "We couldn't reach the server. Please try again."
)

// toastFor builds the toast for an error of class c. serverMessage is used
// for plain errors, whose messages are already safe to display.
func toastFor(c Class, code apperr.Code, serverMessage string) Toast {
	switch c {
	case ClassAuth:
		return Toast{Kind: ToastWarning, Class: c, Code: code, Message: msgSessionExpired, Duration: 4 * time.Second}
	case ClassForbidden:
		return Toast{Kind: ToastError, Class: c, Code: code, Message: msgForbidden, Duration: 5 * time.Second}
	case ClassRateLimited:
		return Toast{Kind: ToastWarning, Class: c, Code: code, Message: msgRateLimited, Duration: 6 * time.Second}
	case ClassRetryable:
		return Toast{Kind: ToastError, Class: c, Code: code, Message: msgUnavailable, Duration: 8 * time.Second, Retryable: true}
	}
	if serverMessage == "" {
		serverMessage = apperr.MsgGeneric
	}
	return Toast{Kind: ToastError, Class: ClassError, Code: code, Message: serverMessage, Duration: 5 * time.Second}
}
