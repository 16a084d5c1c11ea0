package errors

// Error codes for standardized error responses
const (
	// Authentication errors
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeForbidden              = "forbidden"
	ErrCodeInvalidToken           = "invalid_token"
	ErrCodeTokenExpired           = "token_expired"
	ErrCodeAuthenticationRequired = "authentication_required"

	// Validation errors
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeMissingField     = "missing_field"

	// Resource errors
	ErrCodeNotFound      = "not_found"
	ErrCodeAlreadyExists = "already_exists"
	ErrCodeConflict      = "conflict"

	// Quiz lifecycle errors
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeTransitionConflict = "transition_conflict"
	ErrCodeQuizNotLive        = "quiz_not_live"
	ErrCodeQuizNotEnded       = "quiz_not_ended"
	ErrCodeQuizContentFrozen  = "quiz_content_frozen"

	// Attempt errors
	ErrCodeAttemptNotFound    = "attempt_not_found"
	ErrCodeAttemptCompleted   = "attempt_completed"
	ErrCodeQuestionNotCurrent = "question_not_current"
	ErrCodeWrongAudience      = "wrong_audience"
	ErrCodeIntegrityViolation = "integrity_violation"

	// Settlement errors
	ErrCodeAlreadyFinalized = "already_finalized"
	ErrCodeSettlementFailed = "settlement_failed"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"
	ErrCodeConnectionError    = "connection_error"

	// Server errors
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeUpstreamError      = "upstream_error"
)
