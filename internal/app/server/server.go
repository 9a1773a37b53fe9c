package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"q360/internal/domain/audit"
	"q360/internal/domain/auth"
	"q360/internal/domain/evaluation"
	"q360/internal/domain/org"
	"q360/internal/platform/config"
	"q360/internal/platform/db"
	"q360/internal/platform/jobs"
	"q360/internal/platform/lock"
	"q360/internal/platform/logger"
	"q360/internal/platform/metrics"
	"q360/internal/transport/http/api"
	audithandler "q360/internal/transport/http/handlers/audit"
	evaluationhandler "q360/internal/transport/http/handlers/evaluation"
	"q360/internal/transport/http/middleware"
)

type App struct {
	Config      config.Config
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Router      http.Handler
	Log         *logger.Logger
	Metrics     *metrics.Collector
	Evaluations *evaluation.Service
	Audit       *audit.Service
	Jobs        *jobs.Service
}

// New connects to Postgres (and Redis when configured), applies migrations when enabled
// and wires the router. It starts no goroutines; Run does.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app := &App{Config: cfg, DB: pool, Log: log, Metrics: metrics.New()}

	if cfg.RunMigrations {
		applied, err := db.Migrate(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "versions", applied)
		}
	}

	locker, err := app.locker(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	policy := evaluation.DefaultAssignmentPolicy()
	if cfg.AssignmentPolicyFile != "" {
		policy, err = evaluation.LoadAssignmentPolicy(cfg.AssignmentPolicyFile)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("assignment policy: %w", err)
		}
	}

	svc := evaluation.NewService(evaluation.NewStore(pool), org.NewStore(pool), auth.Gate{}, locker, log)
	svc.Metrics = app.Metrics
	svc.Policy = policy
	svc.BulkConcurrency = cfg.BulkFinalizeConcurrency
	app.Evaluations = svc
	app.Audit = audit.New(pool)
	app.Jobs = jobs.New(pool, cfg, svc, log)
	app.Router = app.routes()
	return app, nil
}

func (a *App) locker(ctx context.Context) (evaluation.Locker, error) {
	if a.Config.RedisAddr == "" {
		keyed := lock.NewKeyedMutex()
		keyed.Metrics = a.Metrics
		a.Log.Info("using in-process result locks")
		return keyed, nil
	}
	client, err := lock.NewRedisClient(ctx, a.Config.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.Redis = client
	locker := lock.NewRedisLocker(client, a.Config.LockTTL, a.Log)
	locker.Metrics = a.Metrics
	a.Log.Info("using redis result locks", "addr", a.Config.RedisAddr, "ttl", a.Config.LockTTL.String())
	return locker, nil
}

func (a *App) routes() http.Handler {
	cfg := a.Config
	perms := auth.StaticPermissions{}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer(a.Log))
	router.Use(middleware.Logger(a.Log, a.Metrics))
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret, a.Log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if a.Redis != nil {
			if err := a.Redis.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
		r.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

		evaluationHandler := evaluationhandler.NewHandler(a.Evaluations, perms, a.Audit, a.Jobs, a.Log, cfg.RequestTimeout)
		evaluationHandler.RegisterRoutes(r)

		auditHandler := audithandler.NewHandler(a.Audit, perms, a.Log)
		auditHandler.RegisterRoutes(r)
	})

	return router
}

// Run serves HTTP and the recalculation scheduler until ctx is cancelled, then drains
// in-flight requests.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("q360 server listening", "addr", a.Config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.Log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("redis close failed", "err", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
