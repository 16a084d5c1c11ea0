// Package eligibility decides whether a participant's answers count toward
// the ranking. It is a pure function over ground-truth inputs; the same
// logic runs at attempt finalization (participant feedback) and again during
// settlement (authoritative, never trusting the earlier flag).
package eligibility

import (
	"time"

	"github.com/google/uuid"

	"github.com/quizdaily/live-quiz/internal/quiz"
)

// Reason codes carried on every verdict.
const (
	ReasonPaymentSuccess    = "PAYMENT_SUCCESS"
	ReasonPaymentMissing    = "PAYMENT_MISSING"
	ReasonQuizNotLive       = "QUIZ_NOT_LIVE"
	ReasonLateSubmission    = "LATE_SUBMISSION"
	ReasonProfileIncomplete = "PROFILE_INCOMPLETE"
)

// PaymentStatusSuccess is the only payment status that grants eligibility.
const PaymentStatusSuccess = "SUCCESS"

// Participant is the profile snapshot the evaluator inspects. Registration
// and profile management live outside this service.
type Participant struct {
	ID         uuid.UUID
	Name       string
	Phone      string
	ClassGrade string
	CreatedAt  time.Time
}

// ProfileComplete reports whether the profile carries the minimum fields
// required for a counted attempt.
func (p *Participant) ProfileComplete() bool {
	return p != nil && p.Name != "" && p.Phone != ""
}

// Payment is a successful-payment record scoped to (participant, quiz-date),
// produced by the external payment collaborator.
type Payment struct {
	ID          string
	Participant uuid.UUID
	Date        string
	Status      string
	PaidAt      time.Time
}

// Verdict is the evaluator's output.
type Verdict struct {
	Eligible bool
	Reason   string
}

// Input gathers everything the evaluator looks at. Payment is nil when no
// successful payment exists; CompletedAt is nil for attempts still in play.
type Input struct {
	Participant *Participant
	Payment     *Payment
	Quiz        *quiz.Quiz
	CompletedAt *time.Time
}

// Evaluate maps (participant, payment, quiz) to an eligibility verdict.
// Checks are ordered so the reason names the first blocking condition.
func Evaluate(in Input) Verdict {
	if !in.Participant.ProfileComplete() {
		return Verdict{Eligible: false, Reason: ReasonProfileIncomplete}
	}

	// The quiz must have gone live at some point; a quiz that never went
	// live cannot produce counted attempts.
	if in.Quiz == nil || in.Quiz.LiveAt == nil {
		return Verdict{Eligible: false, Reason: ReasonQuizNotLive}
	}

	// Answers saved after the quiz ended do not count.
	if in.CompletedAt != nil && in.Quiz.EndedAt != nil && in.CompletedAt.After(*in.Quiz.EndedAt) {
		return Verdict{Eligible: false, Reason: ReasonLateSubmission}
	}

	if in.Payment == nil || in.Payment.Status != PaymentStatusSuccess {
		return Verdict{Eligible: false, Reason: ReasonPaymentMissing}
	}

	return Verdict{Eligible: true, Reason: ReasonPaymentSuccess}
}
