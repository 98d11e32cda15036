package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexuswebs/omni-crm-bridge-sub000/config"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/configstore"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/customers"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/db"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/delivery"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/events"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/handlers"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/health"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/instances"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/models"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/pairing"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/payments"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/scheduler"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/storage"
	"github.com/nexuswebs/omni-crm-bridge-sub000/internal/workflows"
	"github.com/nexuswebs/omni-crm-bridge-sub000/pkg/logger"
)

func main() {
	logger.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	conn, err := db.InitDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.MigrateDB(conn, models.All()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher := events.NewPublisherFromConfig(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}()

	deliveries := delivery.NewManager(delivery.Config{
		MaxRetries:   cfg.DeliveryMaxRetries,
		RetryBackoff: cfg.DeliveryRetryBackoff,
		Timeout:      cfg.HTTPTimeout,
	})
	go deliveries.Start(ctx)

	accessor, err := configstore.NewAccessor(conn, configstore.NewDefaults(cfg), publisher, cfg.ConfigCacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config accessor")
	}

	qrStore := storage.NewManager(accessor, cfg.QRImageSize)
	if cfg.QRTerminal {
		qrStore.SetTerminal(os.Stdout)
	}

	reconciler, err := health.NewReconciler(accessor, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize health reconciler")
	}
	health.RegisterDefaults(reconciler, cfg.HTTPTimeout)
	qrStore.Register(reconciler)

	pairings := pairing.NewManager(ctx, pairing.NewPoller(cfg.PairingInterval, cfg.PairingTimeout))

	instanceService, err := instances.NewService(instances.Deps{
		DB:        conn,
		Configs:   accessor,
		Pairing:   pairings,
		QRStore:   qrStore,
		Delivery:  deliveries,
		Publisher: publisher,
		Timeout:   cfg.HTTPTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize instance service")
	}

	server := handlers.NewServer(handlers.Deps{
		DB:         conn,
		APIToken:   cfg.APIToken,
		Configs:    accessor,
		Reconciler: reconciler,
		Instances:  instanceService,
		Workflows:  workflows.NewService(conn, accessor, deliveries, publisher, cfg.HTTPTimeout),
		Customers:  customers.NewService(conn),
		Payments:   payments.NewService(conn, accessor),
		Delivery:   deliveries,
	})

	jobs := scheduler.New(time.Local)
	if err := jobs.AddSweep(cfg.HealthSweepSchedule, reconciler); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule health sweep")
	}
	jobs.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	jobs.Stop(shutdownCtx)
	log.Info().Msg("Server stopped")
}
