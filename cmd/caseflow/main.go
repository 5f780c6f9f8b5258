package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow/caseflow/internal/activity"
	"github.com/caseflow/caseflow/internal/app"
	"github.com/caseflow/caseflow/internal/auth"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/clients"
	"github.com/caseflow/caseflow/internal/dashboard"
	"github.com/caseflow/caseflow/internal/notes"
	"github.com/caseflow/caseflow/internal/observability"
	"github.com/caseflow/caseflow/internal/platform/cache"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/roles"
	"github.com/caseflow/caseflow/internal/security"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/users"
	"github.com/caseflow/caseflow/internal/view"
	"github.com/caseflow/caseflow/jobs"
)

const usage = `usage: caseflow [serve | migrate up|down|status]`

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		direction := "up"
		if len(args) > 1 {
			direction = args[1]
		}
		err = migrate(ctx, cfg, direction)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, direction string) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, direction)
}

// buildEvaluator loads the role catalog and the policy overrides of the deployment.
func buildEvaluator(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool) (*authz.Evaluator, error) {
	catalog := authz.NewRoleCatalog(roles.NewRepository(pool))
	if err := catalog.Load(ctx); err != nil {
		return nil, err
	}
	policies := authz.DefaultPolicies()
	if cfg.AuthzPolicyFile != "" {
		loaded, err := authz.LoadPolicyFile(cfg.AuthzPolicyFile, policies)
		if err != nil {
			return nil, err
		}
		policies = loaded
	}
	if err := policies.Validate(catalog); err != nil {
		return nil, err
	}
	return authz.NewEvaluator(catalog, policies), nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	evaluator, err := buildEvaluator(ctx, cfg, pool)
	if err != nil {
		return fmt.Errorf("authorization setup: %w", err)
	}
	evaluator.SetObserver(metrics)

	invalidator := cache.NewInvalidator(redisClient, cache.RolesChannel, logger)
	go func() {
		err := invalidator.Listen(ctx, func(ctx context.Context) error {
			logger.Info("reloading role catalog")
			return evaluator.Catalog().Load(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("role invalidation listener stopped", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "caseflow_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	idempotency := shared.NewIdempotencyStore(pool)

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	mailer, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := mailer.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	activityRepo := activity.NewRepository(pool)
	recorder := activity.NewRecorder(activityRepo, logger)

	throttle := security.NewThrottle(security.NewRepository(pool), cfg.ThrottleConfig(), logger, security.WithObserver(metrics))
	captcha := security.NewVerifier(cfg.CaptchaSecret, cfg.CaptchaVerifyURL, &http.Client{Timeout: 5 * time.Second})

	usersRepo := users.NewRepository(pool)
	rbacMiddleware := rbac.Middleware{Directory: usersRepo, Evaluator: evaluator, Logger: logger}

	rolesService := roles.NewService(evaluator, invalidator)
	usersService := users.NewService(usersRepo, evaluator, rolesService, users.Options{
		Mailer:      mailer,
		Recorder:    recorder,
		Idempotency: idempotency,
		Logger:      logger,
		BaseURL:     cfg.AppBaseURL,
	})

	dashboardCache := dashboard.NewCache(redisClient, 5*time.Minute)
	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), evaluator, recorder, dashboardCache, logger)

	notesService := notes.NewService(notes.NewRepository(pool), evaluator, recorder, logger)
	clientsService := clients.NewService(clients.NewRepository(pool), evaluator, clients.Options{
		Recorder:    recorder,
		Listener:    dashboardService,
		Idempotency: idempotency,
		Logger:      logger,
	})

	evaluator.RegisterOwner(authz.KindClient, clientsService)
	evaluator.RegisterOwner(authz.KindNote, notesService)
	evaluator.RegisterOwner(authz.KindUser, authz.SelfOwned)

	authService := auth.NewService(auth.NewRepository(pool), throttle, auth.Options{
		Captcha:  captcha,
		Mailer:   mailer,
		Recorder: recorder,
		Logger:   logger,
		BaseURL:  cfg.AppBaseURL,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, cfg.CaptchaSiteKey, app.AuthRateLimit()),
		DashboardHandler:   dashboard.NewHandler(logger, dashboardService, templates, csrfManager, rbacMiddleware),
		ClientsHandler:     clients.NewHandler(logger, clientsService, notesService, templates, csrfManager, rbacMiddleware),
		NotesHandler:       notes.NewHandler(logger, notesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, templates, csrfManager, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbac.NewService(evaluator), templates, csrfManager, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
