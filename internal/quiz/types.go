package quiz

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle states for a daily quiz.
const (
	StateDraft           = "DRAFT"
	StateScheduled       = "SCHEDULED"
	StateLocked          = "LOCKED"
	StateLive            = "LIVE"
	StateEnded           = "ENDED"
	StateResultPublished = "RESULT_PUBLISHED"
)

// Audience filters.
const (
	GradeAll   = "ALL"
	Grade10th  = "10th"
	Grade12th  = "12th"
	GradeOther = "Other"
)

// Question is one item of a quiz. Exactly four options; CorrectIndex points
// into Options in the original (unshuffled) coordinate space.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// Quiz is the authoritative record for one quiz-date. At most one exists per
// date; it is never deleted, only advanced through its lifecycle.
type Quiz struct {
	Date              string // YYYY-MM-DD
	State             string
	Version           int64 // optimistic concurrency guard for transitions
	Questions         []Question
	ClassGrade        string
	SubscriptionTier  string
	LockedAt          *time.Time
	LiveAt            *time.Time
	EndedAt           *time.Time
	ResultPublishedAt *time.Time
	CreatedAt         time.Time
}

// QuestionCount is a nil-safe question count.
func (q *Quiz) QuestionCount() int {
	if q == nil {
		return 0
	}
	return len(q.Questions)
}

// Winner is one immutable row of the settled ranking for a quiz-date.
// Created only by settlement; a re-run replaces the full set atomically.
type Winner struct {
	Date        string
	Participant uuid.UUID
	Rank        int
	Score       int
	TotalTimeMs int64
	QuizHash    string // SHA-256 over the question set that produced this ranking
	AnswersHash string // SHA-256 over the participant's answer sequence
	SnapshotAt  time.Time
}

// Domain error taxonomy. Callers branch on these with errors.Is.
var (
	ErrNotFound         = errors.New("quiz not found")
	ErrNotLive          = errors.New("quiz is not live")
	ErrNotEnded         = errors.New("quiz has not ended")
	ErrQuizPublished    = errors.New("quiz content frozen after going live")
	ErrAlreadyFinalized = errors.New("settlement already completed")
)

// InvalidTransitionError names the rejected edge so operators can see exactly
// which transition was attempted.
type InvalidTransitionError struct {
	Date string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s for quiz %s", e.From, e.To, e.Date)
}

// TransitionConflictError is returned to the loser of a raced transition.
// The winner's commit stands; the loser must re-read state and decide again.
type TransitionConflictError struct {
	Date string
	To   string
}

func (e *TransitionConflictError) Error() string {
	return fmt.Sprintf("concurrent transition detected for quiz %s (to %s)", e.Date, e.To)
}
