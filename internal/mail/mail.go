// Package mail delivers templated transactional email. Delivery is always a
// side effect of a state change that has already been committed, so callers
// go through a Dispatcher which logs and discards failures.
package mail

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies an email template
type Kind string

const (
	KindVerifyEmail         Kind = "verify_email"
	KindPasswordReset       Kind = "password_reset"
	KindEmailChangeNotice   Kind = "email_change_notice"
	KindEmailChangeConfirm  Kind = "email_change_confirm"
	KindFamilyInvitation    Kind = "family_invitation"
	KindJoinRequestReceived Kind = "join_request_received"
	KindJoinRequestApproved Kind = "join_request_approved"
	KindJoinRequestRejected Kind = "join_request_rejected"
	KindWelcome             Kind = "welcome"
)

// Template variable names shared by callers and templates
const (
	VarName            = "name"
	VarToken           = "token"
	VarNewEmail        = "new_email"
	VarFamilyName      = "family_name"
	VarInviterName     = "inviter_name"
	VarRole            = "role"
	VarMessage         = "message"
	VarRequesterName   = "requester_name"
	VarRequesterEmail  = "requester_email"
	VarResponseMessage = "response_message"
)

// Message is a request to send one templated email
type Message struct {
	Kind Kind
	To   string
	Vars map[string]string
}

// Validate checks that the message names a known template and a recipient
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("message has no recipient")
	}
	if _, ok := templateSpecs[m.Kind]; !ok {
		return fmt.Errorf("unknown email kind %q", m.Kind)
	}
	return nil
}

// Gateway delivers a message or reports why it could not
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}
