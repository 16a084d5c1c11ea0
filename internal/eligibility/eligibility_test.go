package eligibility

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/quizdaily/live-quiz/internal/quiz"
)

func liveQuiz() *quiz.Quiz {
	live := time.Now().Add(-30 * time.Minute)
	return &quiz.Quiz{Date: "2026-08-30", State: quiz.StateLive, LiveAt: &live}
}

func paidParticipant() (*Participant, *Payment) {
	p := &Participant{ID: uuid.New(), Name: "Asha", Phone: "9999900000"}
	pay := &Payment{ID: "pay_1", Participant: p.ID, Date: "2026-08-30", Status: PaymentStatusSuccess}
	return p, pay
}

func TestEvaluatePaidAndComplete(t *testing.T) {
	p, pay := paidParticipant()
	v := Evaluate(Input{Participant: p, Payment: pay, Quiz: liveQuiz()})
	assert.True(t, v.Eligible)
	assert.Equal(t, ReasonPaymentSuccess, v.Reason)
}

func TestEvaluatePaymentMissing(t *testing.T) {
	p, _ := paidParticipant()
	v := Evaluate(Input{Participant: p, Payment: nil, Quiz: liveQuiz()})
	assert.False(t, v.Eligible)
	assert.Equal(t, ReasonPaymentMissing, v.Reason)
}

func TestEvaluateNonSuccessPayment(t *testing.T) {
	p, pay := paidParticipant()
	pay.Status = "PENDING"
	v := Evaluate(Input{Participant: p, Payment: pay, Quiz: liveQuiz()})
	assert.False(t, v.Eligible)
	assert.Equal(t, ReasonPaymentMissing, v.Reason)
}

func TestEvaluateProfileIncomplete(t *testing.T) {
	p, pay := paidParticipant()
	p.Phone = ""
	v := Evaluate(Input{Participant: p, Payment: pay, Quiz: liveQuiz()})
	assert.False(t, v.Eligible)
	assert.Equal(t, ReasonProfileIncomplete, v.Reason)

	v = Evaluate(Input{Participant: nil, Payment: pay, Quiz: liveQuiz()})
	assert.Equal(t, ReasonProfileIncomplete, v.Reason)
}

func TestEvaluateQuizNeverWentLive(t *testing.T) {
	p, pay := paidParticipant()
	v := Evaluate(Input{Participant: p, Payment: pay, Quiz: &quiz.Quiz{State: quiz.StateScheduled}})
	assert.False(t, v.Eligible)
	assert.Equal(t, ReasonQuizNotLive, v.Reason)

	v = Evaluate(Input{Participant: p, Payment: pay, Quiz: nil})
	assert.Equal(t, ReasonQuizNotLive, v.Reason)
}

func TestEvaluateLateSubmission(t *testing.T) {
	p, pay := paidParticipant()
	q := liveQuiz()
	ended := time.Now().Add(-10 * time.Minute)
	q.EndedAt = &ended
	late := ended.Add(2 * time.Minute)
	v := Evaluate(Input{Participant: p, Payment: pay, Quiz: q, CompletedAt: &late})
	assert.False(t, v.Eligible)
	assert.Equal(t, ReasonLateSubmission, v.Reason)

	onTime := ended.Add(-2 * time.Minute)
	v = Evaluate(Input{Participant: p, Payment: pay, Quiz: q, CompletedAt: &onTime})
	assert.True(t, v.Eligible)
}
