package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"moneymanager/internal/amqp"
	"moneymanager/internal/cli"
	"moneymanager/internal/config"
	"moneymanager/internal/notify"
	"moneymanager/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("notify-worker")
	logger.Info("Starting notify-worker")

	// The worker never issues or validates tokens, so only the mailer
	// settings are checked.
	cfg := config.Load()
	if err := cfg.ValidateMailer(); err != nil {
		cli.Fatal(logger, "Configuration validation failed", err)
	}
	port, err := strconv.Atoi(cfg.SMTPPort)
	if err != nil {
		cli.Fatal(logger, "Invalid SMTP port", err)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPInviteQueue, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	defer amqpClient.Close()

	mailer := notify.NewSMTPMailer(cfg.SMTPHost, port, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	mailWorker := worker.NewMailWorker(amqpClient, mailer, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Consuming invite emails", "queue", cfg.AMQPInviteQueue, "smtp_host", cfg.SMTPHost)
	if err := mailWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cli.Fatal(logger, "Message consumption failed", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
