package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"familyledger/internal/config"
	"familyledger/internal/mail"
)

// mailer drains the email topic the API server publishes to when
// EMAIL_BACKEND=kafka and delivers each event through SES.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.KafkaBroker == "" {
		log.Fatal("KAFKA_BROKER is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gateway mail.Gateway
	if cfg.SESFromEmail == "" {
		log.Println("SES_FROM_EMAIL not set, logging emails instead of sending")
		gateway = mail.LogGateway{AppBaseURL: cfg.AppBaseURL, Debug: cfg.Debug}
	} else {
		gateway, err = mail.NewSESGateway(ctx, mail.SESConfig{
			Region:     cfg.SESRegion,
			FromEmail:  cfg.SESFromEmail,
			FromName:   cfg.SESFromName,
			AppBaseURL: cfg.AppBaseURL,
			Debug:      cfg.Debug,
		})
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
	}

	consumer := mail.NewConsumer(mail.KafkaConfig{
		Broker:   cfg.KafkaBroker,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
	}, gateway, cfg.EmailSendTimeout)
	defer consumer.Close()

	log.Printf("Mailer consuming %s (group %s)", cfg.KafkaTopic, cfg.KafkaGroupID)
	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("Mailer stopped: %v", err)
	}
	log.Println("Mailer shut down")
}
