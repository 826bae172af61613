package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"affiliate-commission-system/handlers"
	"affiliate-commission-system/logging"
	"affiliate-commission-system/middleware"
	"affiliate-commission-system/services"
	"affiliate-commission-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, payout scheduler and sync workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	server := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// Only Gateway requests allowed, no exceptions.
	server.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	origins := strings.Split(cfg.AllowedOrigins, ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		MaxAge:       86400,
	}))
	server.Use(middleware.MetricsMiddleware())
	server.Use(middleware.UserContextMiddleware())

	server.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	handlers.SetupRevenueRoutes(server, a.calculator)
	handlers.SetupAffiliateRoutes(server, a.affiliates, a.downline)
	handlers.SetupPayoutRoutes(server, a.payouts, a.withdrawals, a.analytics)

	sched, err := services.StartScheduler(ctx, a.payouts, a.affiliates, cfg.EarningsRefreshInterval)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	if cfg.SyncServiceURL != "" {
		destinations := workers.NewDestinationSyncClient(a.db, cfg.SyncServiceURL, cfg.ServiceToken)
		go workers.PollDestinations(ctx, destinations, cfg.SyncInterval)
		workers.NewProfileSyncWorker(a.db, cfg.SyncServiceURL, cfg.ServiceToken, cfg.SyncInterval).Start(ctx)
	}

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			logging.Logger.Error("[HTTP] server error", zap.Error(err))
			stop()
		}
	}()
	logging.Logger.Info("[HTTP] server running",
		zap.String("port", cfg.Port),
		zap.Strings("origins", origins),
		zap.String("currency", cfg.Currency),
	)

	<-ctx.Done()
	logging.Logger.Info("[HTTP] shutting down")
	return server.ShutdownWithTimeout(10 * time.Second)
}
