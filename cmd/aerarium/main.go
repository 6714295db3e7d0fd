package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aerarium-app/aerarium/internal/app"
	"github.com/aerarium-app/aerarium/internal/auth"
	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/observability"
	"github.com/aerarium-app/aerarium/internal/platform/cache"
	"github.com/aerarium-app/aerarium/internal/platform/db"
	"github.com/aerarium-app/aerarium/internal/roles"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/token"
	"github.com/aerarium-app/aerarium/internal/users"
	"github.com/aerarium-app/aerarium/internal/view"
	"github.com/aerarium-app/aerarium/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "aerarium_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.SecretKey)
	tokens := token.NewCodec([]byte(cfg.SecretKey), time.Now)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	mailClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init mail queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("mail queue close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	rolesRepo := roles.NewRepository(dbpool)
	rolesService := roles.NewService(rolesRepo, auditLogger, cfg.ItemsPerPage)

	authzMiddleware := authz.Middleware{Resolver: rolesService, Logger: logger}

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(users.ServiceConfig{
		Repo:       usersRepo,
		Tokens:     tokens,
		Mailer:     mailClient,
		Audit:      auditLogger,
		PerPage:    cfg.ItemsPerPage,
		TokenTTL:   cfg.TokenValidity,
		BaseURL:    cfg.AppBaseURL,
		BcryptCost: cfg.BcryptLogRounds,
	})

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(auth.ServiceConfig{
		Repo:       authRepo,
		Tokens:     tokens,
		Mailer:     mailClient,
		Audit:      auditLogger,
		TokenTTL:   cfg.TokenValidity,
		BaseURL:    cfg.AppBaseURL,
		BcryptCost: cfg.BcryptLogRounds,
	})

	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)
	rolesHandler := roles.NewHandler(logger, rolesService, templates, csrfManager, authzMiddleware)
	usersHandler := users.NewHandler(logger, usersService, rolesService, templates, csrfManager, authzMiddleware)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, templates, csrfManager, authzMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		AuthHandler:     authHandler,
		RolesHandler:    rolesHandler,
		UsersHandler:    usersHandler,
		JobHandler:      jobHandler,
		AuthzMiddleware: authzMiddleware,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
