package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/attempt"
	"github.com/quizdaily/live-quiz/internal/auth"
	"github.com/quizdaily/live-quiz/internal/config"
	"github.com/quizdaily/live-quiz/internal/db/repository"
	"github.com/quizdaily/live-quiz/internal/logging"
	"github.com/quizdaily/live-quiz/internal/observability"
	"github.com/quizdaily/live-quiz/internal/quiz"
	"github.com/quizdaily/live-quiz/internal/realtime"
	"github.com/quizdaily/live-quiz/internal/server"
	"github.com/quizdaily/live-quiz/internal/settlement"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server) and
// the quiz runtime.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	service     *quiz.Service
	scheduler   *quiz.Scheduler
	broadcaster *realtime.Broadcaster
	bgCancels   []context.CancelFunc
}

// New bootstraps config, logger, Postgres, Redis and the full quiz runtime.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be configured")
	}
	authMgr := auth.NewManager(auth.TokenConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Name,
	})

	// Persistence.
	quizRepo := repository.NewQuizRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	winnerRepo := repository.NewWinnerRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	participantRepo := repository.NewParticipantRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	// Observability.
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	timeline := observability.NewTimeline(redisClient, logger)
	security := observability.SecurityFanout{metrics, timeline}

	// Real-time fanout.
	hub := realtime.NewHub(logger)
	publisher := realtime.NewRedisPublisher(redisClient, "", logger)
	broadcaster := realtime.NewBroadcaster(redisClient, hub, "", logger)

	// Quiz runtime. The scheduler's exhaustion callback is bound to the
	// service after both exist.
	states := observability.StateFanout{metrics, timeline}
	machine := quiz.NewMachine(quizRepo, publisher, states, logger)
	cursor := quiz.NewCursorStore(redisClient)

	var service *quiz.Service
	onExhausted := func(ctx context.Context, date string) {
		if service == nil {
			return
		}
		if err := service.EndQuiz(ctx, date); err != nil {
			logger.Error().Err(err).Str("quiz_date", date).Msg("auto end failed")
		}
	}
	scheduler := quiz.NewScheduler(quizRepo, cursor, publisher, metrics, onExhausted, cfg.Quiz.AdvancePeriod, logger)

	engine := settlement.NewEngine(attemptRepo, quizRepo, winnerRepo, cursor, machine, paymentRepo, participantRepo, metrics, auditRepo, logger)
	service = quiz.NewService(quizRepo, machine, scheduler, winnerRepo, engine, paymentRepo, quizRepo, redisClient, logger)

	tracker := attempt.NewTracker(attemptRepo, quizRepo, cursor, paymentRepo, participantRepo, security, cfg.Quiz.AdvancePeriod, logger)

	// HTTP surface.
	quizHandlers := quiz.NewHTTPHandlers(service, quizRepo, cursor, engine, logger)
	attemptHandlers := attempt.NewHTTPHandlers(tracker, logger)
	wsHandler := realtime.WSHandler(hub, logger)

	apiServer := server.NewHTTPServer(cfg, logger, server.Deps{
		Auth:     authMgr,
		Quiz:     quizHandlers,
		Attempt:  attemptHandlers,
		Timeline: timeline,
		WS:       wsHandler,
		Pool:     pool,
		Redis:    redisClient,
	})

	return &Application{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		http:        apiServer,
		service:     service,
		scheduler:   scheduler,
		broadcaster: broadcaster,
		bgCancels:   make([]context.CancelFunc, 0, 1),
	}, nil
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	if err := a.service.Recover(ctx); err != nil {
		a.logger.Error().Err(err).Msg("live quiz recovery failed")
	}

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	a.scheduler.StopAll()
	for _, cancel := range a.bgCancels {
		cancel()
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancels = append(a.bgCancels, cancel)
	go func() {
		if err := a.broadcaster.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Msg("event broadcaster stopped")
		}
	}()
}
