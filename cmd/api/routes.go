package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"

	"github.com/installmatch/backend/internal/auth"
	"github.com/installmatch/backend/internal/cancellation"
	"github.com/installmatch/backend/internal/config"
	"github.com/installmatch/backend/internal/database"
	"github.com/installmatch/backend/internal/events"
	"github.com/installmatch/backend/internal/idempotency"
	"github.com/installmatch/backend/internal/jobs"
	"github.com/installmatch/backend/internal/ledger"
	"github.com/installmatch/backend/internal/middleware"
	"github.com/installmatch/backend/internal/router"
	"github.com/installmatch/backend/internal/validation"
)

// newApp wires repositories, services and handlers into the HTTP surface.
func newApp(
	ctx context.Context,
	cfg config.Config,
	pool *pgxpool.Pool,
	riverClient *river.Client[pgx.Tx],
	broker *events.Broker,
	keys *idempotency.Store,
	logger *slog.Logger,
) (http.Handler, error) {
	validator, err := validation.New()
	if err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}
	runner := database.NewRunner(pool,
		database.WithMaxAttempts(cfg.TxMaxAttempts),
		database.WithLogger(logger),
	)
	publisher := events.NewRiverPublisher(riverClient)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret,
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithLogger(logger),
	)
	if cfg.AdminEmail != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), runner, publisher, ledger.WithLogger(logger))
	cancelRepo := cancellation.NewRepository(pool)
	jobsSvc := jobs.NewService(jobs.NewRepository(pool), ledgerSvc, runner, publisher,
		jobs.WithCancelHook(cancellation.NewResolver(cancelRepo, logger)),
		jobs.WithLogger(logger),
	)
	cancelSvc := cancellation.NewService(cancelRepo, jobsSvc, runner,
		cancellation.WithPolicy(cancellation.Policy{
			Urgent:   cfg.CancelWindowUrgent,
			Standard: cfg.CancelWindowStandard,
		}),
		cancellation.WithLogger(logger),
	)

	return router.New(router.Deps{
		Auth:           auth.NewHandler(authSvc, validator, logger),
		Ledger:         ledger.NewHandler(ledgerSvc, validator, logger),
		Jobs:           jobs.NewHandler(jobsSvc, validator, logger),
		Cancellations:  cancellation.NewHandler(cancelSvc, validator, logger),
		Events:         events.NewStreamHandler(broker, middleware.IdentityFromCtx, logger),
		Tokens:         authSvc,
		Idempotency:    keys,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	}), nil
}
