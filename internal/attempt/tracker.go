package attempt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizdaily/live-quiz/internal/eligibility"
	"github.com/quizdaily/live-quiz/internal/quiz"
	"github.com/quizdaily/live-quiz/internal/shuffle"
)

// minAnswerDelay rejects answers arriving faster than a human could read the
// question.
const minAnswerDelay = 2 * time.Second

// Store persists attempts. Get returns (nil, nil) when no attempt exists.
type Store interface {
	Get(ctx context.Context, participant uuid.UUID, date string) (*Attempt, error)
	Create(ctx context.Context, a *Attempt) error
	Update(ctx context.Context, a *Attempt) error
	ListSaved(ctx context.Context, date string) ([]*Attempt, error)
}

// QuizReader is the read-only quiz capability the tracker needs.
type QuizReader interface {
	GetByDate(ctx context.Context, date string) (*quiz.Quiz, error)
}

// CursorReader exposes the Shared Advancement Cursor.
type CursorReader interface {
	Current(ctx context.Context, date string) (int, bool, error)
	QuestionStartTime(ctx context.Context, date string) (time.Time, error)
}

// PaymentLookup resolves the successful payment for (participant, date), or
// nil when none exists. Payment capture itself is an external collaborator.
type PaymentLookup interface {
	SuccessfulPayment(ctx context.Context, participant uuid.UUID, date string) (*eligibility.Payment, error)
}

// ParticipantLookup resolves a participant profile snapshot.
type ParticipantLookup interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*eligibility.Participant, error)
}

// SecurityObserver records anti-cheat events. May be nil.
type SecurityObserver interface {
	RecordAntiCheatEvent(ctx context.Context, participant uuid.UUID, date, kind string, details map[string]any)
}

// Tracker owns the per-participant mutable attempt record during live play:
// join, question serving in the participant's shuffled coordinates, answer
// submission, and finalization.
type Tracker struct {
	store        Store
	quizzes      QuizReader
	cursor       CursorReader
	payments     PaymentLookup
	participants ParticipantLookup
	security     SecurityObserver
	period       time.Duration
	logger       zerolog.Logger
}

// NewTracker builds an attempt tracker. A zero period falls back to the
// scheduler's default advancement cadence.
func NewTracker(store Store, quizzes QuizReader, cursor CursorReader, payments PaymentLookup, participants ParticipantLookup, security SecurityObserver, period time.Duration, logger zerolog.Logger) *Tracker {
	if period <= 0 {
		period = quiz.DefaultAdvancePeriod
	}
	return &Tracker{
		store:        store,
		quizzes:      quizzes,
		cursor:       cursor,
		payments:     payments,
		participants: participants,
		security:     security,
		period:       period,
		logger:       logger.With().Str("component", "attempt").Logger(),
	}
}

// Join creates the participant's attempt for date, or resumes an unfinished
// one. The question permutation is computed once here and persisted; the
// participant's index starts at the shared cursor, so a late joiner lands on
// the live question, never on question zero.
func (t *Tracker) Join(ctx context.Context, participantID uuid.UUID, date string, device DeviceInfo) (*Attempt, error) {
	existing, err := t.store.Get(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if existing != nil {
		if existing.AnswersSaved {
			return nil, ErrAttemptCompleted
		}
		return existing, nil
	}

	q, err := t.quizzes.GetByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if q.State != quiz.StateLive {
		return nil, quiz.ErrNotLive
	}

	if q.ClassGrade != "" && q.ClassGrade != quiz.GradeAll {
		participant, err := t.participants.GetParticipant(ctx, participantID)
		if err != nil {
			return nil, fmt.Errorf("load participant: %w", err)
		}
		if participant == nil || participant.ClassGrade != q.ClassGrade {
			return nil, ErrWrongAudience
		}
	}

	n := q.QuestionCount()
	globalIndex, _, err := t.cursor.Current(ctx, date)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Attempt{
		ID:                   uuid.New(),
		Participant:          participantID,
		Date:                 date,
		QuestionOrder:        shuffle.QuestionOrder(participantID.String(), n),
		OptionOrders:         make([][]int, n),
		Answers:              newAnswerSlots(n),
		AnswerTimestamps:     make([]time.Time, n),
		QuestionStartTimes:   make([]time.Time, n),
		QuestionHashes:       make([]string, n),
		CurrentQuestionIndex: globalIndex,
		DeviceID:             device.DeviceID,
		DeviceFingerprint:    device.Fingerprint,
		IPAddress:            device.IPAddress,
		StartedAt:            now,
		CreatedAt:            now,
	}

	if err := t.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	t.logger.Info().
		Str("participant", participantID.String()).
		Str("quiz_date", date).
		Int("start_index", globalIndex).
		Msg("participant joined quiz")
	return a, nil
}

// CurrentQuestion serves the question the shared cursor is on, in the
// participant's shuffled question and option order. The option permutation
// is generated lazily on first serve and persisted so settlement can invert
// it later.
func (t *Tracker) CurrentQuestion(ctx context.Context, participantID uuid.UUID, date string) (*QuestionView, error) {
	q, err := t.quizzes.GetByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if q.State != quiz.StateLive {
		return nil, quiz.ErrNotLive
	}

	a, err := t.store.Get(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	if a.AnswersSaved {
		return nil, ErrAttemptCompleted
	}

	globalIndex, _, err := t.cursor.Current(ctx, date)
	if err != nil {
		return nil, err
	}
	if globalIndex >= q.QuestionCount() {
		return nil, quiz.ErrNotLive
	}

	dirty := false
	// Reconcile up to the shared cursor; never rewind.
	if a.CurrentQuestionIndex < globalIndex {
		a.CurrentQuestionIndex = globalIndex
		dirty = true
	}
	idx := a.CurrentQuestionIndex

	originalIdx := a.QuestionOrder[idx]
	question := q.Questions[originalIdx]

	if a.OptionOrders[idx] == nil {
		a.OptionOrders[idx] = shuffle.OptionOrder(participantID.String(), idx, len(question.Options))
		dirty = true
	}
	optionOrder := a.OptionOrders[idx]
	options := make([]string, len(question.Options))
	for shuffled, original := range optionOrder {
		options[shuffled] = question.Options[original]
	}

	now := time.Now().UTC()
	if a.QuestionStartTimes[idx].IsZero() {
		a.QuestionStartTimes[idx] = now
		a.QuestionHashes[idx] = hashQuestion(question.Text, options, idx)
		dirty = true
	}
	if dirty {
		if err := t.store.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("save attempt: %w", err)
		}
	}

	startTime, err := t.cursor.QuestionStartTime(ctx, date)
	if err != nil || startTime.IsZero() {
		startTime = a.QuestionStartTimes[idx]
	}

	return &QuestionView{
		QuestionID:   questionID(date, idx),
		Index:        idx,
		Text:         question.Text,
		Options:      options,
		QuestionHash: a.QuestionHashes[idx],
		ExpiresAt:    startTime.Add(t.period),
		ServerTime:   now,
	}, nil
}

// SubmitAnswer records an answer for the currently live question. Answers in
// the participant's shuffled option space are stored as-is; correctness is
// computed by inverting the stored permutation. Unpaid participants get full
// correctness feedback but their answers never count toward the ranking.
func (t *Tracker) SubmitAnswer(ctx context.Context, participantID uuid.UUID, questionIDStr string, optionIndex int, device DeviceInfo) (*SubmitResult, error) {
	date, idx, err := parseQuestionID(questionIDStr)
	if err != nil {
		return nil, err
	}

	q, err := t.quizzes.GetByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if q.State != quiz.StateLive {
		return nil, quiz.ErrNotLive
	}

	a, err := t.store.Get(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	if a.AnswersSaved {
		return nil, ErrAttemptCompleted
	}

	if err := t.checkIntegrity(ctx, a, idx, device); err != nil {
		return nil, err
	}

	// Only the question the shared cursor is on may be answered.
	globalIndex, _, err := t.cursor.Current(ctx, date)
	if err != nil {
		return nil, err
	}
	if idx != globalIndex {
		return nil, ErrQuestionNotCurrent
	}
	if idx < 0 || idx >= q.QuestionCount() {
		return nil, ErrQuestionNotCurrent
	}

	if a.Answers[idx] != Unanswered {
		return &SubmitResult{Accepted: false, AlreadyAnswered: true}, nil
	}

	originalIdx := a.QuestionOrder[idx]
	question := q.Questions[originalIdx]
	if optionIndex < 0 || optionIndex >= len(question.Options) {
		return nil, fmt.Errorf("option index %d out of range", optionIndex)
	}

	originalAnswer := optionIndex
	if order := a.OptionOrders[idx]; len(order) == len(question.Options) {
		originalAnswer = order[optionIndex]
	}
	isCorrect := originalAnswer == question.CorrectIndex

	payment, err := t.payments.SuccessfulPayment(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("payment lookup: %w", err)
	}
	counts := payment != nil && payment.Status == eligibility.PaymentStatusSuccess

	now := time.Now().UTC()
	a.Answers[idx] = optionIndex
	a.AnswerTimestamps[idx] = now
	if start := a.QuestionStartTimes[idx]; !start.IsZero() {
		a.TotalTimeMs += now.Sub(start).Milliseconds()
	}
	if idx > a.CurrentQuestionIndex {
		a.CurrentQuestionIndex = idx
	}
	if err := t.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	t.logger.Info().
		Str("participant", participantID.String()).
		Str("quiz_date", date).
		Int("question_index", idx).
		Bool("correct", isCorrect).
		Bool("counts", counts).
		Msg("answer submitted")

	return &SubmitResult{Accepted: true, IsCorrect: isCorrect, CountsForScore: counts}, nil
}

// Finalize seals the attempt: recomputes the score from stored permutations,
// evaluates eligibility, and sets the terminal answersSaved flag. After this
// the attempt is immutable until settlement writes its verdict fields.
func (t *Tracker) Finalize(ctx context.Context, participantID uuid.UUID, date string) (*Attempt, error) {
	a, err := t.store.Get(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if a == nil {
		return nil, ErrAttemptNotFound
	}
	if a.AnswersSaved {
		return nil, ErrAttemptCompleted
	}

	q, err := t.quizzes.GetByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	participant, err := t.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	payment, err := t.payments.SuccessfulPayment(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("payment lookup: %w", err)
	}

	now := time.Now().UTC()
	verdict := eligibility.Evaluate(eligibility.Input{
		Participant: participant,
		Payment:     payment,
		Quiz:        q,
		CompletedAt: &now,
	})

	a.Score = Score(q, a)
	a.TotalTimeMs = ElapsedMs(a)
	a.AnswersSaved = true
	a.IsEligible = verdict.Eligible
	a.EligibilityReason = verdict.Reason
	a.Counted = verdict.Eligible
	a.CompletedAt = &now

	if err := t.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	t.logger.Info().
		Str("participant", participantID.String()).
		Str("quiz_date", date).
		Int("score", a.Score).
		Bool("counted", a.Counted).
		Str("reason", a.EligibilityReason).
		Msg("attempt finalized")
	return a, nil
}

// Status returns the combined eligibility/quiz/attempt view for a participant.
func (t *Tracker) Status(ctx context.Context, participantID uuid.UUID, date string) (*StatusView, error) {
	q, err := t.quizzes.GetByDate(ctx, date)
	if err != nil {
		if !errors.Is(err, quiz.ErrNotFound) {
			return nil, err
		}
		q = nil
	}

	participant, err := t.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	payment, err := t.payments.SuccessfulPayment(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("payment lookup: %w", err)
	}

	verdict := eligibility.Evaluate(eligibility.Input{
		Participant: participant,
		Payment:     payment,
		Quiz:        q,
	})

	view := &StatusView{Eligible: verdict.Eligible, Reason: verdict.Reason}
	if q != nil {
		view.Quiz = &QuizStatus{Date: q.Date, State: q.State, QuestionCount: q.QuestionCount()}
	}

	a, err := t.store.Get(ctx, participantID, date)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if a != nil {
		view.Attempt = &AttemptStatus{
			Joined:               true,
			Completed:            a.AnswersSaved,
			Score:                a.Score,
			CurrentQuestionIndex: a.CurrentQuestionIndex,
		}
	}
	return view, nil
}

func (t *Tracker) checkIntegrity(ctx context.Context, a *Attempt, idx int, device DeviceInfo) error {
	violation := func(kind, detail string, details map[string]any) error {
		if t.security != nil {
			t.security.RecordAntiCheatEvent(ctx, a.Participant, a.Date, kind, details)
		}
		return &IntegrityViolationError{Kind: kind, Detail: detail}
	}

	if a.DeviceID != "" && device.DeviceID != "" && a.DeviceID != device.DeviceID {
		return violation("device_mismatch", "device does not match join device", map[string]any{
			"expected": a.DeviceID, "provided": device.DeviceID, "ip": device.IPAddress,
		})
	}
	if a.DeviceFingerprint != "" && device.Fingerprint != "" && a.DeviceFingerprint != device.Fingerprint {
		return violation("fingerprint_mismatch", "device fingerprint does not match", map[string]any{
			"ip": device.IPAddress,
		})
	}
	if idx >= 0 && idx < len(a.QuestionStartTimes) {
		if start := a.QuestionStartTimes[idx]; !start.IsZero() && time.Since(start) < minAnswerDelay {
			return violation("rapid_answer", "answer arrived impossibly fast", map[string]any{
				"question_index": idx, "elapsed_ms": time.Since(start).Milliseconds(),
			})
		}
	}
	return nil
}

func newAnswerSlots(n int) []int {
	answers := make([]int, n)
	for i := range answers {
		answers[i] = Unanswered
	}
	return answers
}

func questionID(date string, idx int) string {
	return fmt.Sprintf("%s:%d", date, idx)
}

func parseQuestionID(id string) (string, int, error) {
	sep := strings.LastIndex(id, ":")
	if sep <= 0 || sep == len(id)-1 {
		return "", 0, fmt.Errorf("malformed question id %q", id)
	}
	idx, err := strconv.Atoi(id[sep+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed question id %q: %w", id, err)
	}
	return id[:sep], idx, nil
}

func hashQuestion(text string, options []string, index int) string {
	payload, _ := json.Marshal(struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Index    int      `json:"index"`
	}{text, options, index})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
