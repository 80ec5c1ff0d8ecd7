package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pledgehub/pledgehub/db"
	"github.com/pledgehub/pledgehub/internal/auth"
	"github.com/pledgehub/pledgehub/internal/handlers"
	"github.com/pledgehub/pledgehub/internal/middleware"
	"github.com/pledgehub/pledgehub/internal/payments"
	"github.com/pledgehub/pledgehub/internal/realtime"
	"github.com/pledgehub/pledgehub/internal/router"
	"github.com/pledgehub/pledgehub/internal/scheduler"
	"github.com/pledgehub/pledgehub/internal/services"
	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API, the realtime hub and the stats drift repair job.

Examples:
  pledgehub serve
  pledgehub serve --migrate`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "run migrations and seed categories before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, gdb, err := openDatabase()
	if err != nil {
		return err
	}
	defer closeDatabase(gdb)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if serveMigrate {
		if err := db.MigrateDatabase(gdb); err != nil {
			return err
		}
		if err := db.SeedCategories(gdb); err != nil {
			return fmt.Errorf("failed to seed categories: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	go hub.Run(ctx)

	gateway := payments.NewStripeGateway(cfg.StripeSecretKey)
	stats := services.NewStatsAggregator(gdb, cfg.StatsBatchSize)
	payouts := services.NewPayoutService(gdb, gateway)
	reconciler := services.NewReconciler(gdb, stats, payouts, hub, services.NewOwnerAlerter(nil, cfg.ProjectName))

	h := handlers.New(handlers.Deps{
		Config:     cfg,
		DB:         gdb,
		Hub:        hub,
		Verifier:   payments.NewWebhookVerifier(cfg.StripeWebhookSecret),
		Reconciler: reconciler,
		Checkout:   services.NewCheckoutService(gdb, gateway, cfg.DefaultCurrency),
		Payouts:    payouts,
		Stats:      stats,
	})

	authenticator := middleware.NewAuthenticator(auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer), gdb, cfg.CookieName)

	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(cfg, h, authenticator)

	jobs := scheduler.NewScheduler(ctx)
	jobs.AddJob("stats-drift-repair", cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := stats.RecomputeAll(ctx)
		return err
	})
	defer jobs.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("%s listening on :%s", cfg.ProjectName, cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Open streams end when the hub stops with ctx.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	reconciler.Wait()

	return nil
}
