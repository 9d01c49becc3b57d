package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safar/foodmanager/internal/api"
	"github.com/safar/foodmanager/internal/history"
	"github.com/safar/foodmanager/internal/inventory"
	"github.com/safar/foodmanager/internal/purchase"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the inventory, cart and history API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("open store")
		return err
	}
	defer closeBackend()

	items := inventory.NewService(backend, cfg.Seed.File, logger)
	if cfg.Seed.OnStart {
		if _, err := items.SeedSample(ctx); err != nil {
			logger.WithError(err).Error("seed sample catalog")
			return err
		}
	}

	screen := inventory.NewEngine(backend, inventory.Options{Debounce: cfg.Search.Debounce, Logger: logger})
	defer screen.Close()
	catalog := inventory.NewEngine(backend, inventory.Options{Logger: logger})
	defer catalog.Close()

	// Hold one subscription so the screen engine keeps its upstream open
	// between requests.
	if warm, err := screen.Subscribe(ctx); err != nil {
		logger.WithError(err).Warn("inventory feed not started")
	} else {
		defer warm.Close()
	}

	coordinator := purchase.NewCoordinator(backend, purchase.Options{
		MaxRetries:  cfg.Purchase.MaxRetries,
		BaseBackoff: cfg.Purchase.RetryBackoff,
		Logger:      logger,
	})
	cart := purchase.NewCart(coordinator, catalog, logger)
	go cart.Run(ctx)
	defer cart.Close()

	srv := api.NewServer(api.Deps{
		Inventory: screen,
		Items:     items,
		Store:     backend,
		Cart:      cart,
		History:   history.NewProjector(backend, logger),
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
		return err
	}
	return nil
}
