package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

type templateSpec struct {
	subject string
	// path is appended to the base URL; a token, if present, is added as ?token=
	path string
}

var templateSpecs = map[Kind]templateSpec{
	KindVerifyEmail:         {subject: "Verify your email address", path: "/verify-email"},
	KindPasswordReset:       {subject: "Reset your password", path: "/reset-password"},
	KindEmailChangeNotice:   {subject: "Your email address is being changed", path: "/account"},
	KindEmailChangeConfirm:  {subject: "Confirm your new email address", path: "/confirm-email-change"},
	KindFamilyInvitation:    {subject: "You have been invited to join a family", path: "/accept-invitation"},
	KindJoinRequestReceived: {subject: "New request to join your family", path: "/family/requests"},
	KindJoinRequestApproved: {subject: "Your join request was approved", path: "/family"},
	KindJoinRequestRejected: {subject: "Your join request was declined", path: "/families"},
	KindWelcome:             {subject: "Welcome to Family Ledger", path: "/login"},
}

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.New("").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.New("").Option("missingkey=zero").ParseFS(templateFS, "templates/*.txt"))
)

type templateData struct {
	Vars map[string]string
	Link string
}

// Rendered is a message ready for delivery
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Render produces the subject and bodies for msg. Links point at baseURL.
func Render(msg Message, baseURL string) (*Rendered, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	spec := templateSpecs[msg.Kind]

	link := strings.TrimRight(baseURL, "/") + spec.path
	if token := msg.Vars[VarToken]; token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	data := templateData{Vars: msg.Vars, Link: link}

	var htmlBody bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&htmlBody, string(msg.Kind)+".html", data); err != nil {
		return nil, fmt.Errorf("failed to render %s html: %w", msg.Kind, err)
	}

	var textBody bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&textBody, string(msg.Kind)+".txt", data); err != nil {
		return nil, fmt.Errorf("failed to render %s text: %w", msg.Kind, err)
	}

	return &Rendered{
		Subject: spec.subject,
		HTML:    htmlBody.String(),
		Text:    textBody.String(),
	}, nil
}
