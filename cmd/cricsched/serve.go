package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/derekprior/cricsched/internal/api"
	"github.com/derekprior/cricsched/internal/notify"
	"github.com/derekprior/cricsched/internal/service"
	"github.com/derekprior/cricsched/internal/store"
)

// runServe wires the store, publisher, service and router, then serves until
// ctx is cancelled.
func runServe(ctx context.Context, addr string, logger *zap.Logger) error {
	pool, err := store.NewPool(ctx, store.DBConfigFromEnv(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL")

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	var publisher service.Publisher
	if cfg := notify.ConfigFromEnv(); cfg.URL != "" {
		p, err := notify.Dial(cfg, logger)
		if err != nil {
			logger.Warn("schedule events disabled", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	svc := service.New(st, publisher, logger)
	handler := api.NewHandler(svc, logger)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: api.GenerationTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
