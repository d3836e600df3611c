package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"moneymanager/internal/amqp"
	"moneymanager/internal/attachments"
	"moneymanager/internal/attachments/drive"
	memblobs "moneymanager/internal/attachments/memory"
	"moneymanager/internal/backend"
	"moneymanager/internal/cache"
	"moneymanager/internal/cli"
	apphttp "moneymanager/internal/http"
	"moneymanager/internal/identity"
	"moneymanager/internal/live"
	"moneymanager/internal/log"
	"moneymanager/internal/notify"
	"moneymanager/internal/services"
)

func main() {
	logger, cfg := cli.Bootstrap("moneymanager")

	// Data backend
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := backend.NewFactory(logger).CreateBackend(startCtx, bcfg)
	cancelStart()
	if err != nil {
		cli.Fatal(logger, "Failed to initialize data backend", err)
	}
	defer result.Cleanup()

	hub := live.NewHub(logger)

	// Broker is optional: without it changes stay in-process and invites
	// are only logged.
	var (
		amqpClient *amqp.Client
		relay      *amqp.ChangeRelay
		dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPInviteQueue, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to connect to AMQP broker", err)
		}
		defer amqpClient.Close()
		relay = amqp.NewChangeRelay(amqpClient)
		hub.SetRelay(relay)
		dispatcher = notify.NewAMQPDispatcher(amqpClient)
		logger.Info("AMQP enabled", "exchange", cfg.AMQPExchange, "origin", relay.Origin())
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, invites are logged only")
	}

	var blobs attachments.Store
	if bcfg.Type == backend.MemoryBackend {
		blobs = memblobs.New(cfg.AttachmentFolder)
		logger.Warn("Using in-memory attachment store")
	} else {
		blobs = drive.New(cfg.AttachmentFolder, logger)
	}

	st := result.Store
	families := services.NewFamilyService(st, hub, dispatcher, cfg.AppURL, logger)
	catalog := services.NewCatalogService(st, hub, logger)
	ledger := services.NewLedger(st, families, blobs, hub, logger)

	tokens := identity.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	sessions := identity.NewSessionStore(cfg.SessionMaxEntries, cfg.SessionTTL, logger)

	caches := cache.NewManager(logger)
	caches.Register(sessions.Cache())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Families:           families,
		Catalog:            catalog,
		Ledger:             ledger,
		Resolver:           identity.NewResolver(tokens, sessions),
		Store:              st,
		Registry:           reg,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return caches.Run(gctx, time.Minute)
	})
	if relay != nil {
		g.Go(func() error {
			err := relay.Run(gctx, hub)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		logger.Info("Starting moneymanager server",
			"port", cfg.Port,
			"backend", bcfg.Type.String(),
			"amqp", amqpClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
