package attempt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizdaily/live-quiz/internal/eligibility"
	"github.com/quizdaily/live-quiz/internal/quiz"
)

type fakeStore struct {
	attempts map[string]*Attempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: make(map[string]*Attempt)}
}

func key(participant uuid.UUID, date string) string {
	return participant.String() + "|" + date
}

func (s *fakeStore) Get(_ context.Context, participant uuid.UUID, date string) (*Attempt, error) {
	a, ok := s.attempts[key(participant, date)]
	if !ok {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

func (s *fakeStore) Create(_ context.Context, a *Attempt) error {
	k := key(a.Participant, a.Date)
	if _, exists := s.attempts[k]; exists {
		return fmt.Errorf("duplicate attempt")
	}
	clone := *a
	s.attempts[k] = &clone
	return nil
}

func (s *fakeStore) Update(_ context.Context, a *Attempt) error {
	k := key(a.Participant, a.Date)
	if _, exists := s.attempts[k]; !exists {
		return ErrAttemptNotFound
	}
	clone := *a
	s.attempts[k] = &clone
	return nil
}

func (s *fakeStore) ListSaved(_ context.Context, date string) ([]*Attempt, error) {
	var out []*Attempt
	for _, a := range s.attempts {
		if a.Date == date && a.AnswersSaved {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

type fakeQuizReader struct {
	quiz *quiz.Quiz
}

func (r *fakeQuizReader) GetByDate(_ context.Context, date string) (*quiz.Quiz, error) {
	if r.quiz == nil || r.quiz.Date != date {
		return nil, quiz.ErrNotFound
	}
	return r.quiz, nil
}

type fakeCursor struct {
	index int
	start time.Time
}

func (c *fakeCursor) Current(_ context.Context, _ string) (int, bool, error) {
	return c.index, true, nil
}

func (c *fakeCursor) QuestionStartTime(_ context.Context, _ string) (time.Time, error) {
	return c.start, nil
}

type fakePayments struct {
	paid map[uuid.UUID]bool
}

func (p *fakePayments) SuccessfulPayment(_ context.Context, participant uuid.UUID, date string) (*eligibility.Payment, error) {
	if !p.paid[participant] {
		return nil, nil
	}
	return &eligibility.Payment{
		ID:          "pay-" + participant.String()[:8],
		Participant: participant,
		Date:        date,
		Status:      eligibility.PaymentStatusSuccess,
		PaidAt:      time.Now().Add(-time.Hour),
	}, nil
}

type fakeParticipants struct {
	profiles map[uuid.UUID]*eligibility.Participant
}

func (p *fakeParticipants) GetParticipant(_ context.Context, id uuid.UUID) (*eligibility.Participant, error) {
	return p.profiles[id], nil
}

type recordingSecurity struct {
	kinds []string
}

func (r *recordingSecurity) RecordAntiCheatEvent(_ context.Context, _ uuid.UUID, _ string, kind string, _ map[string]any) {
	r.kinds = append(r.kinds, kind)
}

const testDate = "2025-03-01"

func liveQuiz(questions int) *quiz.Quiz {
	liveAt := time.Now().Add(-time.Minute)
	qs := make([]quiz.Question, questions)
	for i := range qs {
		qs[i] = quiz.Question{
			Text:         fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
		}
	}
	return &quiz.Quiz{
		Date:       testDate,
		State:      quiz.StateLive,
		Questions:  qs,
		ClassGrade: quiz.GradeAll,
		LiveAt:     &liveAt,
	}
}

type trackerFixture struct {
	tracker      *Tracker
	store        *fakeStore
	quizzes      *fakeQuizReader
	cursor       *fakeCursor
	payments     *fakePayments
	participants *fakeParticipants
	security     *recordingSecurity
}

func newFixture(q *quiz.Quiz) *trackerFixture {
	f := &trackerFixture{
		store:        newFakeStore(),
		quizzes:      &fakeQuizReader{quiz: q},
		cursor:       &fakeCursor{start: time.Now().Add(-5 * time.Second)},
		payments:     &fakePayments{paid: make(map[uuid.UUID]bool)},
		participants: &fakeParticipants{profiles: make(map[uuid.UUID]*eligibility.Participant)},
		security:     &recordingSecurity{},
	}
	f.tracker = NewTracker(f.store, f.quizzes, f.cursor, f.payments, f.participants, f.security, 15*time.Second, zerolog.Nop())
	return f
}

func (f *trackerFixture) addParticipant(paid bool) uuid.UUID {
	id := uuid.New()
	f.participants.profiles[id] = &eligibility.Participant{
		ID:    id,
		Name:  "Test Participant",
		Phone: "9999999999",
	}
	f.payments.paid[id] = paid
	return id
}

func TestJoinRequiresLiveQuiz(t *testing.T) {
	q := liveQuiz(3)
	q.State = quiz.StateScheduled
	f := newFixture(q)
	p := f.addParticipant(true)

	_, err := f.tracker.Join(context.Background(), p, testDate, DeviceInfo{})
	assert.ErrorIs(t, err, quiz.ErrNotLive)
}

func TestJoinStartsAtSharedCursor(t *testing.T) {
	f := newFixture(liveQuiz(5))
	f.cursor.index = 3
	p := f.addParticipant(true)

	a, err := f.tracker.Join(context.Background(), p, testDate, DeviceInfo{DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, a.CurrentQuestionIndex)
	assert.Len(t, a.QuestionOrder, 5)
	assert.Equal(t, Unanswered, a.Answers[0])
}

func TestJoinResumesExistingAttempt(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	first, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	second, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestJoinRejectsWrongAudience(t *testing.T) {
	q := liveQuiz(3)
	q.ClassGrade = quiz.Grade12th
	f := newFixture(q)
	p := f.addParticipant(true)
	f.participants.profiles[p].ClassGrade = quiz.Grade10th

	_, err := f.tracker.Join(context.Background(), p, testDate, DeviceInfo{})
	assert.ErrorIs(t, err, ErrWrongAudience)
}

func TestCurrentQuestionFastForwardsNeverRewinds(t *testing.T) {
	f := newFixture(liveQuiz(5))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	f.cursor.index = 2
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Index)
	assert.Equal(t, testDate+":2", view.QuestionID)
	assert.Len(t, view.Options, 4)

	stored, _ := f.store.Get(ctx, p, testDate)
	assert.Equal(t, 2, stored.CurrentQuestionIndex)
	assert.NotNil(t, stored.OptionOrders[2])
	assert.NotEmpty(t, stored.QuestionHashes[2])
}

func TestSubmitAnswerRejectsStaleQuestion(t *testing.T) {
	f := newFixture(liveQuiz(5))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	f.cursor.index = 2
	_, err = f.tracker.SubmitAnswer(ctx, p, testDate+":1", 0, DeviceInfo{})
	assert.ErrorIs(t, err, ErrQuestionNotCurrent)
}

func TestSubmitAnswerCorrectness(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	// Serve the question so the option order exists, then age the start
	// time past the rapid-answer floor.
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	staleStart(t, f.store, p)

	stored, _ := f.store.Get(ctx, p, testDate)
	originalIdx := stored.QuestionOrder[0]
	correct := f.quizzes.quiz.Questions[originalIdx].CorrectIndex
	shuffledCorrect := indexOf(t, stored.OptionOrders[0], correct)

	result, err := f.tracker.SubmitAnswer(ctx, p, view.QuestionID, shuffledCorrect, DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.True(t, result.IsCorrect)
	assert.True(t, result.CountsForScore)
}

func TestSubmitAnswerUnpaidGetsFeedbackButNeverCounts(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(false)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	staleStart(t, f.store, p)

	result, err := f.tracker.SubmitAnswer(ctx, p, view.QuestionID, 0, DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.CountsForScore)

	// The answer is still recorded.
	stored, _ := f.store.Get(ctx, p, testDate)
	assert.NotEqual(t, Unanswered, stored.Answers[0])
}

func TestSubmitAnswerSecondWriteIsNoOp(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	staleStart(t, f.store, p)

	first, err := f.tracker.SubmitAnswer(ctx, p, view.QuestionID, 1, DeviceInfo{})
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := f.tracker.SubmitAnswer(ctx, p, view.QuestionID, 2, DeviceInfo{})
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.True(t, second.AlreadyAnswered)

	stored, _ := f.store.Get(ctx, p, testDate)
	assert.Equal(t, 1, stored.Answers[0])
}

func TestSubmitAnswerDeviceMismatch(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{DeviceID: "dev-1"})
	require.NoError(t, err)
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	staleStart(t, f.store, p)

	_, err = f.tracker.SubmitAnswer(ctx, p, view.QuestionID, 0, DeviceInfo{DeviceID: "dev-2"})
	var violation *IntegrityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "device_mismatch", violation.Kind)
	assert.Contains(t, f.security.kinds, "device_mismatch")
}

func TestSubmitAnswerRapidAnswerRejected(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)

	// Start time was just written by CurrentQuestion.
	_, err = f.tracker.SubmitAnswer(ctx, p, view.QuestionID, 0, DeviceInfo{})
	var violation *IntegrityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "rapid_answer", violation.Kind)
}

func TestFinalizeComputesScoreAndVerdict(t *testing.T) {
	f := newFixture(liveQuiz(2))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	// Answer question 0 correctly through the real flow.
	view, err := f.tracker.CurrentQuestion(ctx, p, testDate)
	require.NoError(t, err)
	staleStart(t, f.store, p)
	stored, _ := f.store.Get(ctx, p, testDate)
	correct := f.quizzes.quiz.Questions[stored.QuestionOrder[0]].CorrectIndex
	_, err = f.tracker.SubmitAnswer(ctx, p, view.QuestionID, indexOf(t, stored.OptionOrders[0], correct), DeviceInfo{})
	require.NoError(t, err)

	a, err := f.tracker.Finalize(ctx, p, testDate)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Score)
	assert.True(t, a.AnswersSaved)
	assert.True(t, a.IsEligible)
	assert.Equal(t, eligibility.ReasonPaymentSuccess, a.EligibilityReason)
	assert.NotNil(t, a.CompletedAt)

	_, err = f.tracker.Finalize(ctx, p, testDate)
	assert.ErrorIs(t, err, ErrAttemptCompleted)
}

func TestFinalizeUnpaidParticipantNotCounted(t *testing.T) {
	f := newFixture(liveQuiz(2))
	p := f.addParticipant(false)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	a, err := f.tracker.Finalize(ctx, p, testDate)
	require.NoError(t, err)
	assert.False(t, a.IsEligible)
	assert.False(t, a.Counted)
	assert.Equal(t, eligibility.ReasonPaymentMissing, a.EligibilityReason)
}

func TestStatusWithoutQuizOrAttempt(t *testing.T) {
	f := newFixture(nil)
	p := f.addParticipant(true)

	view, err := f.tracker.Status(context.Background(), p, testDate)
	require.NoError(t, err)
	assert.Nil(t, view.Quiz)
	assert.Nil(t, view.Attempt)
	assert.False(t, view.Eligible)
	assert.Equal(t, eligibility.ReasonQuizNotLive, view.Reason)
}

func TestStatusReflectsProgress(t *testing.T) {
	f := newFixture(liveQuiz(3))
	p := f.addParticipant(true)
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, p, testDate, DeviceInfo{})
	require.NoError(t, err)

	view, err := f.tracker.Status(ctx, p, testDate)
	require.NoError(t, err)
	require.NotNil(t, view.Quiz)
	assert.Equal(t, quiz.StateLive, view.Quiz.State)
	require.NotNil(t, view.Attempt)
	assert.True(t, view.Attempt.Joined)
	assert.False(t, view.Attempt.Completed)
}

func TestParseQuestionID(t *testing.T) {
	date, idx, err := parseQuestionID("2025-03-01:4")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", date)
	assert.Equal(t, 4, idx)

	_, _, err = parseQuestionID("garbage")
	assert.Error(t, err)
}

// staleStart ages every recorded question start past the rapid-answer floor.
func staleStart(t *testing.T, store *fakeStore, participant uuid.UUID) {
	t.Helper()
	a := store.attempts[key(participant, testDate)]
	require.NotNil(t, a)
	for i := range a.QuestionStartTimes {
		if !a.QuestionStartTimes[i].IsZero() {
			a.QuestionStartTimes[i] = a.QuestionStartTimes[i].Add(-5 * time.Second)
		}
	}
}

func indexOf(t *testing.T, order []int, original int) int {
	t.Helper()
	for shuffled, orig := range order {
		if orig == original {
			return shuffled
		}
	}
	t.Fatalf("original index %d not in order %v", original, order)
	return -1
}
