package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	httperrors "github.com/quizdaily/live-quiz/pkg/http/errors"
)

// ContentStore is the write capability for quiz content, separate from the
// lifecycle store so content edits cannot touch state.
type ContentStore interface {
	Create(ctx context.Context, q *Quiz) error
	UpdateQuestions(ctx context.Context, date string, questions []Question) error
}

// FenceResetter releases the settlement fence so an operator can re-run
// settlement after a failure.
type FenceResetter interface {
	ResetFence(ctx context.Context, date string) error
}

// HTTPHandlers provides the operator REST endpoints for quiz lifecycle,
// content and results.
type HTTPHandlers struct {
	service *Service
	content ContentStore
	fence   FenceResetter
	settler Settler
	logger  zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for quiz operations.
func NewHTTPHandlers(service *Service, content ContentStore, fence FenceResetter, settler Settler, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service: service,
		content: content,
		fence:   fence,
		settler: settler,
		logger:  logger.With().Str("component", "quiz_http").Logger(),
	}
}

// CreateQuizRequest is the POST /v1/admin/quizzes payload.
type CreateQuizRequest struct {
	Date             string     `json:"quiz_date"`
	Questions        []Question `json:"questions"`
	ClassGrade       string     `json:"class_grade"`
	SubscriptionTier string     `json:"subscription_tier"`
}

// CreateQuiz handles POST /v1/admin/quizzes
func (h *HTTPHandlers) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req CreateQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if req.Date == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingField, "quiz_date is required", "quiz_date")
		return
	}
	for i, q := range req.Questions {
		if len(q.Options) != 4 || q.CorrectIndex < 0 || q.CorrectIndex > 3 {
			h.logger.Warn().Str("quiz_date", req.Date).Int("question", i).Msg("rejected malformed question")
			httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, "each question needs exactly 4 options and a valid correct_index", "questions")
			return
		}
	}
	if req.ClassGrade == "" {
		req.ClassGrade = GradeAll
	}

	q := &Quiz{
		Date:             req.Date,
		State:            StateDraft,
		Questions:        req.Questions,
		ClassGrade:       req.ClassGrade,
		SubscriptionTier: req.SubscriptionTier,
	}
	if err := h.content.Create(r.Context(), q); err != nil {
		h.logger.Error().Err(err).Str("quiz_date", req.Date).Msg("failed to create quiz")
		httperrors.RespondConflict(w, httperrors.ErrCodeAlreadyExists, "Quiz already exists for that date")
		return
	}
	httperrors.RespondJSON(w, http.StatusCreated, map[string]any{
		"quiz_date":      q.Date,
		"state":          q.State,
		"question_count": len(q.Questions),
	})
}

// UpdateQuestions handles PUT /v1/admin/quizzes/{date}/questions
func (h *HTTPHandlers) UpdateQuestions(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	var questions []Question
	if err := json.NewDecoder(r.Body).Decode(&questions); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if err := h.content.UpdateQuestions(r.Context(), date, questions); err != nil {
		h.respondDomainError(w, date, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{
		"quiz_date":      date,
		"question_count": len(questions),
	})
}

// Lock handles POST /v1/admin/quizzes/{date}/lock
func (h *HTTPHandlers) Lock(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.LockQuiz)
}

// Start handles POST /v1/admin/quizzes/{date}/start
func (h *HTTPHandlers) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.StartQuiz)
}

// End handles POST /v1/admin/quizzes/{date}/end
func (h *HTTPHandlers) End(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.EndQuiz)
}

func (h *HTTPHandlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	date := r.PathValue("date")
	if err := op(r.Context(), date); err != nil {
		h.respondDomainError(w, date, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{"quiz_date": date})
}

// Snapshot handles POST /v1/admin/quizzes/{date}/snapshot
func (h *HTTPHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	count, err := h.service.SnapshotEligible(r.Context(), date)
	if err != nil {
		h.respondDomainError(w, date, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{
		"quiz_date": date,
		"count":     count,
	})
}

// Resettle handles POST /v1/admin/quizzes/{date}/settle. It releases the
// settlement fence and runs settlement again; the replace-style winners
// write makes the re-run safe.
func (h *HTTPHandlers) Resettle(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if err := h.fence.ResetFence(r.Context(), date); err != nil {
		h.logger.Error().Err(err).Str("quiz_date", date).Msg("fence reset failed")
		httperrors.RespondInternalError(w, "Failed to reset settlement fence")
		return
	}
	if err := h.settler.Settle(r.Context(), date); err != nil {
		h.respondDomainError(w, date, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{"quiz_date": date})
}

// Leaderboard handles GET /v1/quizzes/{date}/leaderboard
func (h *HTTPHandlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	winners, err := h.service.GetLeaderboard(r.Context(), date)
	if err != nil {
		h.respondDomainError(w, date, err)
		return
	}
	type entry struct {
		Rank        int    `json:"rank"`
		Participant string `json:"participant_id"`
		Score       int    `json:"score"`
		TotalTimeMs int64  `json:"total_time_ms"`
	}
	entries := make([]entry, 0, len(winners))
	for _, win := range winners {
		entries = append(entries, entry{
			Rank:        win.Rank,
			Participant: win.Participant.String(),
			Score:       win.Score,
			TotalTimeMs: win.TotalTimeMs,
		})
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{
		"quiz_date": date,
		"winners":   entries,
	})
}

func (h *HTTPHandlers) respondDomainError(w http.ResponseWriter, date string, err error) {
	var invalid *InvalidTransitionError
	var conflict *TransitionConflictError
	switch {
	case errors.Is(err, ErrNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "No quiz for that date")
	case errors.Is(err, ErrNotEnded):
		httperrors.RespondConflict(w, httperrors.ErrCodeQuizNotEnded, "Quiz has not ended yet")
	case errors.Is(err, ErrQuizPublished):
		httperrors.RespondConflict(w, httperrors.ErrCodeQuizContentFrozen, "Quiz content is frozen after going live")
	case errors.As(err, &invalid):
		httperrors.RespondConflict(w, httperrors.ErrCodeInvalidTransition, invalid.Error())
	case errors.As(err, &conflict):
		httperrors.RespondConflict(w, httperrors.ErrCodeTransitionConflict, conflict.Error())
	default:
		h.logger.Error().Err(err).Str("quiz_date", date).Msg("quiz operation failed")
		httperrors.RespondInternalError(w, "Internal error")
	}
}
