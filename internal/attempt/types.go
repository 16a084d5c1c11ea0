package attempt

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizdaily/live-quiz/internal/quiz"
)

// Unanswered marks a question slot with no submitted answer.
const Unanswered = -1

// Attempt is one participant's full record of participation in one
// quiz-date. Unique per (participant, date); append-only; immutable once
// AnswersSaved is set. Everything needed to re-verify the score offline is
// stored here: the permutations, the answers in the participant's shuffled
// coordinate space, and server-assigned timestamps.
type Attempt struct {
	ID          uuid.UUID
	Participant uuid.UUID
	Date        string

	// QuestionOrder[i] is the original question index shown at shuffled
	// position i. OptionOrders[i] is the option permutation for that
	// position, nil until the question is first served.
	QuestionOrder []int
	OptionOrders  [][]int

	// Answers are option indices in the shuffled coordinate space.
	Answers            []int
	AnswerTimestamps   []time.Time
	QuestionStartTimes []time.Time
	QuestionHashes     []string

	// CurrentQuestionIndex is monotonically non-decreasing and is
	// fast-forwarded to the shared cursor, never rewound.
	CurrentQuestionIndex int

	Score        int
	TotalTimeMs  int64
	AnswersSaved bool

	// Post-settlement fields.
	IsEligible        bool
	EligibilityReason string
	Counted           bool

	// Anti-cheat pins captured at join.
	DeviceID          string
	DeviceFingerprint string
	IPAddress         string

	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// DeviceInfo is the client device identity captured at join and checked on
// every submission.
type DeviceInfo struct {
	DeviceID    string
	Fingerprint string
	IPAddress   string
}

// QuestionView is what a participant sees for the currently live question.
// Options are in the participant's shuffled order.
type QuestionView struct {
	QuestionID   string    `json:"question_id"`
	Index        int       `json:"index"`
	Text         string    `json:"text"`
	Options      []string  `json:"options"`
	QuestionHash string    `json:"question_hash"`
	ExpiresAt    time.Time `json:"expires_at"`
	ServerTime   time.Time `json:"server_time"`
}

// SubmitResult is the feedback for one answer submission. IsCorrect is
// always reported; CountsForScore reflects the payment gate.
type SubmitResult struct {
	Accepted        bool `json:"accepted"`
	AlreadyAnswered bool `json:"already_answered"`
	IsCorrect       bool `json:"is_correct"`
	CountsForScore  bool `json:"counts_for_score"`
}

// StatusView is the combined quiz/attempt/eligibility snapshot returned by
// the status operation.
type StatusView struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"eligibility_reason"`
	Quiz     *QuizStatus
	Attempt  *AttemptStatus
}

// QuizStatus summarizes the quiz without leaking question content.
type QuizStatus struct {
	Date          string `json:"quiz_date"`
	State         string `json:"state"`
	QuestionCount int    `json:"question_count"`
}

// AttemptStatus summarizes the participant's own progress.
type AttemptStatus struct {
	Joined               bool `json:"joined"`
	Completed            bool `json:"completed"`
	Score                int  `json:"score"`
	CurrentQuestionIndex int  `json:"current_question_index"`
}

var (
	// ErrAttemptNotFound is returned when the participant never joined.
	ErrAttemptNotFound = errors.New("no attempt found")
	// ErrAttemptCompleted guards the terminal answersSaved flag.
	ErrAttemptCompleted = errors.New("attempt already finalized")
	// ErrQuestionNotCurrent rejects answers for any question other than the
	// one the shared cursor is on.
	ErrQuestionNotCurrent = errors.New("question is not the current live question")
	// ErrWrongAudience rejects participants outside the quiz audience filter.
	ErrWrongAudience = errors.New("participant not in quiz audience")
)

// IntegrityViolationError names the anti-cheat rule that rejected an action.
// It does not terminate the attempt; it is recorded as a security event.
type IntegrityViolationError struct {
	Kind   string // device_mismatch, fingerprint_mismatch, rapid_answer
	Detail string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation (%s): %s", e.Kind, e.Detail)
}

// Score recomputes an attempt's score from raw stored data: each answer is
// mapped from the participant's shuffled coordinate space back to the
// original option index and compared to the question's original correct
// index. Client-reported scores are never trusted; both finalization and
// settlement call this.
func Score(q *quiz.Quiz, a *Attempt) int {
	score := 0
	for shuffledPos, originalIdx := range a.QuestionOrder {
		if shuffledPos >= len(a.Answers) {
			break
		}
		answer := a.Answers[shuffledPos]
		if answer == Unanswered {
			continue
		}
		if originalIdx < 0 || originalIdx >= len(q.Questions) {
			continue
		}
		question := q.Questions[originalIdx]

		optionOrder := []int(nil)
		if shuffledPos < len(a.OptionOrders) {
			optionOrder = a.OptionOrders[shuffledPos]
		}
		originalAnswer := answer
		if len(optionOrder) == len(question.Options) && answer >= 0 && answer < len(optionOrder) {
			originalAnswer = optionOrder[answer]
		}
		if originalAnswer == question.CorrectIndex {
			score++
		}
	}
	return score
}

// ElapsedMs sums per-question answer latencies from the server-assigned
// timestamps. Used as the settlement tie-break clock.
func ElapsedMs(a *Attempt) int64 {
	var total int64
	for i, answered := range a.AnswerTimestamps {
		if answered.IsZero() || i >= len(a.QuestionStartTimes) {
			continue
		}
		started := a.QuestionStartTimes[i]
		if started.IsZero() || answered.Before(started) {
			continue
		}
		total += answered.Sub(started).Milliseconds()
	}
	return total
}
