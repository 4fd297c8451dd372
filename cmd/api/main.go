package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shoplane-labs/shoplane-backend/api/routes"
	cartsvc "github.com/shoplane-labs/shoplane-backend/internal/cart"
	"github.com/shoplane-labs/shoplane-backend/internal/catalog"
	checkoutsvc "github.com/shoplane-labs/shoplane-backend/internal/checkout"
	"github.com/shoplane-labs/shoplane-backend/internal/inventory"
	"github.com/shoplane-labs/shoplane-backend/internal/notifications"
	orderssvc "github.com/shoplane-labs/shoplane-backend/internal/orders"
	paymentsvc "github.com/shoplane-labs/shoplane-backend/internal/payments"
	"github.com/shoplane-labs/shoplane-backend/pkg/config"
	"github.com/shoplane-labs/shoplane-backend/pkg/db"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
	"github.com/shoplane-labs/shoplane-backend/pkg/migrate"
	"github.com/shoplane-labs/shoplane-backend/pkg/redis"
	pkgstripe "github.com/shoplane-labs/shoplane-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	currency, err := enums.ParseCurrency(cfg.Checkout.Currency)
	if err != nil {
		logg.Error(context.Background(), "invalid checkout currency", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	dispatcher := notifications.NewLogDispatcher(logg)

	ledger, err := inventory.NewLedger(inventory.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory ledger", err)
		os.Exit(1)
	}

	cartRepo := cartsvc.NewRepository(gormDB)
	ordersRepo := orderssvc.NewRepository(gormDB)
	catalogRepo := catalog.NewRepository(gormDB)

	cartService, err := cartsvc.NewService(cartRepo, catalogRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(dbClient, cartRepo, ordersRepo, catalogRepo, ledger, dispatcher)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orderssvc.NewService(ordersRepo, dbClient, ledger, dispatcher, cfg.Checkout.RestockOnCancel)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := paymentsvc.NewService(
		paymentsvc.NewRepository(gormDB),
		ordersRepo,
		dbClient,
		paymentsvc.NewStripeClient(stripeClient),
		dispatcher,
		logg,
		currency,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			cartService,
			checkoutService,
			ordersService,
			paymentsService,
		),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}
