package attempt

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/auth"
	"github.com/quizdaily/live-quiz/internal/quiz"
	httperrors "github.com/quizdaily/live-quiz/pkg/http/errors"
)

// HTTPHandlers provides the participant-facing REST endpoints for live play.
type HTTPHandlers struct {
	tracker *Tracker
	logger  zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for attempt endpoints.
func NewHTTPHandlers(tracker *Tracker, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		tracker: tracker,
		logger:  logger.With().Str("component", "attempt_http").Logger(),
	}
}

func deviceFrom(r *http.Request, deviceID, fingerprint string) DeviceInfo {
	return DeviceInfo{
		DeviceID:    deviceID,
		Fingerprint: fingerprint,
		IPAddress:   r.RemoteAddr,
	}
}

// JoinRequest is the POST /v1/quizzes/{date}/join payload.
type JoinRequest struct {
	DeviceID          string `json:"device_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// Join handles POST /v1/quizzes/{date}/join
func (h *HTTPHandlers) Join(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}
	date := r.PathValue("date")

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	a, err := h.tracker.Join(r.Context(), participant, date, deviceFrom(r, req.DeviceID, req.DeviceFingerprint))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{
		"quiz_date":              a.Date,
		"current_question_index": a.CurrentQuestionIndex,
		"started_at":             a.StartedAt,
	})
}

// CurrentQuestion handles GET /v1/quizzes/{date}/question
func (h *HTTPHandlers) CurrentQuestion(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	view, err := h.tracker.CurrentQuestion(r.Context(), participant, r.PathValue("date"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, view)
}

// SubmitRequest is the POST /v1/quizzes/{date}/answer payload. The question
// id echoes what CurrentQuestion served; the option index is in the
// participant's shuffled option order.
type SubmitRequest struct {
	QuestionID        string `json:"question_id"`
	OptionIndex       int    `json:"option_index"`
	DeviceID          string `json:"device_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// SubmitAnswer handles POST /v1/quizzes/{date}/answer
func (h *HTTPHandlers) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if req.QuestionID == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingField, "question_id is required", "question_id")
		return
	}

	result, err := h.tracker.SubmitAnswer(r.Context(), participant, req.QuestionID, req.OptionIndex, deviceFrom(r, req.DeviceID, req.DeviceFingerprint))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, result)
}

// Finalize handles POST /v1/quizzes/{date}/finalize
func (h *HTTPHandlers) Finalize(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	a, err := h.tracker.Finalize(r.Context(), participant, r.PathValue("date"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]any{
		"quiz_date":          a.Date,
		"score":              a.Score,
		"total_time_ms":      a.TotalTimeMs,
		"is_eligible":        a.IsEligible,
		"eligibility_reason": a.EligibilityReason,
	})
}

// Status handles GET /v1/quizzes/{date}/status
func (h *HTTPHandlers) Status(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.ParticipantFrom(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	status, err := h.tracker.Status(r.Context(), participant, r.PathValue("date"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, status)
}

func (h *HTTPHandlers) respondDomainError(w http.ResponseWriter, err error) {
	var violation *IntegrityViolationError
	switch {
	case errors.Is(err, quiz.ErrNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "No quiz for that date")
	case errors.Is(err, quiz.ErrNotLive):
		httperrors.RespondConflict(w, httperrors.ErrCodeQuizNotLive, "Quiz is not live")
	case errors.Is(err, ErrAttemptNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeAttemptNotFound, "Join the quiz first")
	case errors.Is(err, ErrAttemptCompleted):
		httperrors.RespondConflict(w, httperrors.ErrCodeAttemptCompleted, "Attempt already finalized")
	case errors.Is(err, ErrQuestionNotCurrent):
		httperrors.RespondConflict(w, httperrors.ErrCodeQuestionNotCurrent, "That question is no longer live")
	case errors.Is(err, ErrWrongAudience):
		httperrors.RespondForbidden(w, httperrors.ErrCodeWrongAudience, "Quiz is for a different audience")
	case errors.As(err, &violation):
		httperrors.RespondErrorWithDetails(w, http.StatusForbidden, httperrors.ErrCodeIntegrityViolation, "Submission rejected", map[string]any{
			"kind": violation.Kind,
		})
	default:
		h.logger.Error().Err(err).Msg("attempt operation failed")
		httperrors.RespondInternalError(w, "Internal error")
	}
}
