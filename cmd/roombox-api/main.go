package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	logpkg "github.com/H51976/roombox-fyp/common/logger"
	"github.com/H51976/roombox-fyp/internal/app"
	"github.com/H51976/roombox-fyp/internal/config"
	"github.com/H51976/roombox-fyp/internal/domain"
	httpapi "github.com/H51976/roombox-fyp/internal/http"
	"github.com/H51976/roombox-fyp/internal/service"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "roombox-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("Failed to initialize roombox", zap.Error(err))
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply ledger schema", zap.Error(err))
	}
	if a.Postgres == nil && os.Getenv("SEED_DEMO_ROOM") != "false" {
		seedDemoRoom(ctx, a, logger)
	}
	if cfg.Auth.TrustHeaders {
		logger.Warn("AUTH_TRUST_HEADERS is on; X-User-Id / X-User-Role are accepted without a token")
	}

	router := httpapi.NewRouter(logger)
	router.RegisterHealthRoutes()
	router.RegisterBookingRoutes(httpapi.NewBookingHandler(
		a.Engine,
		a.Queries,
		httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TrustHeaders),
		logger,
	))

	go a.Reconciler.RunSweeper(ctx, a.SweepOptions())

	srv := service.NewServer(cfg.HTTP.Addr, router, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	logger.Info("roombox-api stopped")
}

// seedDemoRoom gives the in-memory ledger one bookable room for local runs.
func seedDemoRoom(ctx context.Context, a *app.App, logger *zap.Logger) {
	room := &domain.Room{
		RoomID:          "demo-room",
		OwnerID:         getEnv("SEED_DEMO_LANDLORD", "demo-landlord"),
		Title:           "Demo room",
		PricePerMonth:   decimal.NewFromInt(12000),
		SecurityDeposit: decimal.NewFromInt(5000),
		AdvancePayment:  decimal.NewFromInt(3000),
		Status:          domain.RoomAvailable,
	}
	if err := a.Ledger.CreateRoom(ctx, room); err != nil {
		logger.Warn("Failed to seed demo room", zap.Error(err))
		return
	}
	logger.Info("Seeded demo room", zap.String("room_id", room.RoomID), zap.String("owner_id", room.OwnerID))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
