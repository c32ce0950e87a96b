package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/database"
	"github.com/stemsi/certify-backend/internal/handler"
	"github.com/stemsi/certify-backend/internal/logger"
	"github.com/stemsi/certify-backend/internal/middleware"
	"github.com/stemsi/certify-backend/internal/repository"
	"github.com/stemsi/certify-backend/internal/router"
	"github.com/stemsi/certify-backend/internal/service"
	"github.com/stemsi/certify-backend/internal/validator"
	"github.com/stemsi/certify-backend/internal/worker"
)

// stores is the storage wiring for one DB_DRIVER.
type stores struct {
	attempts service.AttemptRepository
	answers  service.AnswerLedger
	exams    service.ExamCatalog
	settings service.SettingReader
	creds    service.CredentialStore
	regrade  *worker.RegradeQueue
	limiter  middleware.Limiter
	checks   map[string]handler.Pinger

	pool       *pgxpool.Pool
	rdb        *redis.Client
	sqlite     *sql.DB
	answerRepo *repository.AnswerRepository
	queued     *repository.QueuedAnswerLedger
}

func (s *stores) close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlite != nil {
		s.sqlite.Close()
	}
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("db_driver", cfg.DBDriver).
		Str("answer_write_mode", cfg.AnswerWriteMode).
		Msg("Starting Certify Backend")
	if cfg.FileError != nil {
		log.Warn().Err(cfg.FileError).Msg("config.yaml could not be parsed, using environment and defaults")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect Storage ───────────────────────────────────────────────
	var (
		st  *stores
		err error
	)
	switch cfg.DBDriver {
	case config.DriverSQLite:
		st, err = openSQLite(ctx, cfg, log)
	case config.DriverPostgres:
		st, err = openPostgres(ctx, cfg, log)
	default:
		log.Fatal().Str("db_driver", cfg.DBDriver).Msg("Unsupported DB_DRIVER")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer st.close()

	// ─── Initialize Services ──────────────────────────────────────────
	threshold := service.NewThresholdProvider(st.settings, cfg.DefaultPassThreshold, log)
	engine := service.NewGradingEngine(st.attempts, st.answers, st.exams, threshold, service.GradingOptions{
		PollAttempts: cfg.GradingPollAttempts,
		PollInterval: cfg.GradingPollInterval,
		Denominator:  cfg.GradingDenominator,
	}, log)
	binder := service.NewSessionBinder(cfg.SessionSecret, cfg.SessionTTL, st.creds)
	registrar := service.NewRegistrar(st.attempts, st.exams, log)

	var regrade service.RegradeQueue
	if st.regrade != nil {
		regrade = st.regrade
	}
	attemptService := service.NewAttemptService(registrar, binder, engine, st.attempts, st.answers, st.exams, regrade, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if st.queued != nil {
		autosaveWorker := worker.NewAutosaveWorker(st.rdb, st.answerRepo, st.queued, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			autosaveWorker.Start(workerCtx)
		}()
	}
	if st.regrade != nil {
		gradingWorker := worker.NewGradingWorker(st.rdb, st.regrade, engine, cfg.RegradeMaxTries, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			gradingWorker.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	cookie := middleware.NewSessionCookie(cfg)
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, cookie, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Health:  handler.NewHealthHandler(st.checks, st.rdb),
	}
	r := router.SetupRouter(handlers, &router.Middlewares{
		Session:       attemptService,
		Cookie:        cookie,
		CreateLimiter: st.limiter,
	}, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Grading polls can hold a request
	// for several seconds, so allow for that.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()
	cancel()

	log.Info().Msg("Shutdown complete")
}

func openSQLite(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	db, err := database.NewSQLiteDB(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store := repository.NewSQLiteStore(db)

	if cfg.AnswerWriteMode == config.AnswerWriteQueued {
		log.Info().Msg("SQLite mode has no queue, answers are written directly")
	}

	return &stores{
		attempts: store,
		answers:  store,
		exams:    store,
		settings: store,
		creds:    store,
		limiter:  middleware.NewRateLimiter(ctx, cfg.CreateRateLimit, time.Minute),
		checks:   map[string]handler.Pinger{"database": handler.PingFunc(db.PingContext)},
		sqlite:   db,
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	examRepo := repository.NewExamRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	catalog := repository.NewCachedExamCatalog(examRepo, rdb, cfg.AnswerKeyCacheTTL, log)

	st := &stores{
		attempts:   repository.NewAttemptRepository(pool),
		answers:    answerRepo,
		exams:      catalog,
		settings:   repository.NewSettingRepository(pool),
		creds:      repository.NewRedisCredentialStore(rdb),
		regrade:    worker.NewRegradeQueue(rdb, cfg.RegradeDelay),
		limiter:    middleware.NewRedisRateLimiter(rdb, "create_attempt", cfg.CreateRateLimit, time.Minute),
		pool:       pool,
		rdb:        rdb,
		answerRepo: answerRepo,
		checks: map[string]handler.Pinger{
			"database": handler.PingFunc(pool.Ping),
			"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
	}
	if cfg.AnswerWriteMode == config.AnswerWriteQueued {
		st.queued = repository.NewQueuedAnswerLedger(rdb, answerRepo)
		st.answers = st.queued
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load every answer key into Redis BEFORE accepting traffic.
	ids, err := examRepo.ListExamIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
		return st, nil
	}
	for _, id := range ids {
		if err := catalog.Warm(ctx, id); err != nil {
			log.Warn().Err(err).Str("exam_id", id.String()).Msg("Cache prewarm failed")
		}
	}
	log.Info().Int("count", len(ids)).Msg("Answer keys prewarmed")
	return st, nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
