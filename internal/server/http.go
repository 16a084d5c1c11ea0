package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/attempt"
	"github.com/quizdaily/live-quiz/internal/auth"
	"github.com/quizdaily/live-quiz/internal/config"
	"github.com/quizdaily/live-quiz/internal/observability"
	"github.com/quizdaily/live-quiz/internal/quiz"
	httperrors "github.com/quizdaily/live-quiz/pkg/http/errors"
)

// Deps gathers everything the HTTP surface serves.
type Deps struct {
	Auth     *auth.Manager
	Quiz     *quiz.HTTPHandlers
	Attempt  *attempt.HTTPHandlers
	Timeline *observability.Timeline
	WS       http.HandlerFunc
	Pool     *pgxpool.Pool
	Redis    *redis.Client
}

// NewHTTPServer wires all routes for the API service.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, deps Deps) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDependencies(r.Context(), deps.Pool, deps.Redis); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			httperrors.RespondError(w, http.StatusServiceUnavailable, httperrors.ErrCodeServiceUnavailable, "dependency unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	withAuth := auth.Middleware(deps.Auth, logger)
	participant := func(h http.HandlerFunc) http.Handler {
		return withAuth(auth.RequireParticipant(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return withAuth(auth.RequireAdmin(h))
	}

	// Operator endpoints.
	mux.Handle("POST /v1/admin/quizzes", admin(deps.Quiz.CreateQuiz))
	mux.Handle("PUT /v1/admin/quizzes/{date}/questions", admin(deps.Quiz.UpdateQuestions))
	mux.Handle("POST /v1/admin/quizzes/{date}/lock", admin(deps.Quiz.Lock))
	mux.Handle("POST /v1/admin/quizzes/{date}/start", admin(deps.Quiz.Start))
	mux.Handle("POST /v1/admin/quizzes/{date}/end", admin(deps.Quiz.End))
	mux.Handle("POST /v1/admin/quizzes/{date}/snapshot", admin(deps.Quiz.Snapshot))
	mux.Handle("POST /v1/admin/quizzes/{date}/settle", admin(deps.Quiz.Resettle))
	mux.Handle("GET /v1/admin/quizzes/{date}/timeline", admin(quizTimelineHandler(deps.Timeline, logger)))

	// Participant endpoints.
	mux.Handle("POST /v1/quizzes/{date}/join", participant(deps.Attempt.Join))
	mux.Handle("GET /v1/quizzes/{date}/question", participant(deps.Attempt.CurrentQuestion))
	mux.Handle("POST /v1/quizzes/{date}/answer", participant(deps.Attempt.SubmitAnswer))
	mux.Handle("POST /v1/quizzes/{date}/finalize", participant(deps.Attempt.Finalize))
	mux.Handle("GET /v1/quizzes/{date}/status", participant(deps.Attempt.Status))
	mux.Handle("GET /v1/participants/me/timeline", participant(timelineHandler(deps.Timeline, logger)))

	// Public results.
	mux.HandleFunc("GET /v1/quizzes/{date}/leaderboard", deps.Quiz.Leaderboard)

	// Live event stream.
	mux.Handle("GET /ws/quizzes/{date}", withAuth(deps.WS))

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func timelineHandler(timeline *observability.Timeline, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := auth.ParticipantFrom(r.Context())
		if !ok {
			httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := timeline.Events(r.Context(), participant, limit)
		if err != nil {
			logger.Error().Err(err).Msg("timeline read failed")
			httperrors.RespondInternalError(w, "Failed to load timeline")
			return
		}
		httperrors.RespondJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func quizTimelineHandler(timeline *observability.Timeline, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.PathValue("date")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := timeline.QuizEvents(r.Context(), date, limit)
		if err != nil {
			logger.Error().Err(err).Str("quiz_date", date).Msg("quiz timeline read failed")
			httperrors.RespondInternalError(w, "Failed to load timeline")
			return
		}
		httperrors.RespondJSON(w, http.StatusOK, map[string]any{"quiz_date": date, "events": events})
	}
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}
