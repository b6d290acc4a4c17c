package mail

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures delivery through Amazon SES
type SESConfig struct {
	Region     string
	FromEmail  string
	FromName   string
	AppBaseURL string
	Debug      bool
}

// SESGateway sends email via Amazon SES
type SESGateway struct {
	client     sesAPI
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	debug      bool
}

// NewSESGateway creates a new SES gateway. With no from-address configured
// the gateway is disabled and every send is skipped.
func NewSESGateway(ctx context.Context, cfg SESConfig) (*SESGateway, error) {
	if cfg.FromEmail == "" {
		log.Println("Email service disabled: SES_FROM_EMAIL not configured")
		if cfg.Debug {
			log.Println("[DEBUG] Email service will skip sending all emails")
		}
		return &SESGateway{appBaseURL: cfg.AppBaseURL, enabled: false, debug: cfg.Debug}, nil
	}

	if cfg.Debug {
		log.Printf("[DEBUG] Initializing email service with AWS SES")
		log.Printf("[DEBUG] AWS Region: %s", cfg.Region)
		log.Printf("[DEBUG] From Email: %s", cfg.FromEmail)
		log.Printf("[DEBUG] App Base URL: %s", cfg.AppBaseURL)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Printf("Email service enabled: from=%s, region=%s", cfg.FromEmail, cfg.Region)
	return newSESGateway(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESGateway(client sesAPI, cfg SESConfig) *SESGateway {
	return &SESGateway{
		client:     client,
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		appBaseURL: cfg.AppBaseURL,
		enabled:    true,
		debug:      cfg.Debug,
	}
}

// IsEnabled returns whether the gateway will actually deliver email
func (g *SESGateway) IsEnabled() bool {
	return g.enabled
}

// Send renders msg and delivers it through SES
func (g *SESGateway) Send(ctx context.Context, msg Message) error {
	if g.debug {
		log.Printf("[DEBUG] SES send called: kind=%s, to=%s", msg.Kind, msg.To)
	}

	rendered, err := Render(msg, g.appBaseURL)
	if err != nil {
		return err
	}

	if !g.enabled {
		log.Printf("Skipping email send (service disabled): %s to %s", msg.Kind, msg.To)
		return nil
	}

	return g.sendEmail(ctx, msg.To, rendered)
}

func (g *SESGateway) sendEmail(ctx context.Context, toEmail string, rendered *Rendered) error {
	fromAddress := g.fromEmail
	if g.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", g.fromName, g.fromEmail)
	}

	if g.debug {
		log.Printf("[DEBUG] From address: %s", fromAddress)
		log.Printf("[DEBUG] Subject: %s", rendered.Subject)
		log.Printf("[DEBUG] HTML body length: %d bytes", len(rendered.HTML))
		log.Printf("[DEBUG] Text body length: %d bytes", len(rendered.Text))
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(rendered.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(rendered.HTML),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(rendered.Text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	if g.debug {
		log.Printf("[DEBUG] SES SendEmail succeeded: messageId=%s", aws.ToString(result.MessageId))
	}
	return nil
}
