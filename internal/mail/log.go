package mail

import (
	"context"
	"log"
)

// LogGateway writes messages to the log instead of sending them. Links are
// only logged in debug mode because they carry live tokens.
type LogGateway struct {
	AppBaseURL string
	Debug      bool
}

func (g LogGateway) Send(_ context.Context, msg Message) error {
	rendered, err := Render(msg, g.AppBaseURL)
	if err != nil {
		return err
	}
	log.Printf("Email (log only): kind=%s to=%s subject=%q", msg.Kind, msg.To, rendered.Subject)
	if g.Debug {
		log.Printf("[DEBUG] Email body:\n%s", rendered.Text)
	}
	return nil
}
