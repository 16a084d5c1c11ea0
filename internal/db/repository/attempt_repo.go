package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizdaily/live-quiz/internal/attempt"
)

// AttemptRepository persists attempts. The permutations, answers and
// server-assigned timestamps live in JSONB columns so the full record needed
// for offline re-verification travels with the row.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, participant_id, quiz_date, question_order, option_orders, answers,
	answer_timestamps, question_start_times, question_hashes, current_question_index,
	score, total_time_ms, answers_saved, is_eligible, eligibility_reason, counted,
	device_id, device_fingerprint, ip_address, started_at, completed_at, created_at`

// attemptDoc groups the JSONB-encoded progress columns.
type attemptDoc struct {
	questionOrder, optionOrders, answers, answerTimes, startTimes, hashes []byte
}

func encodeAttempt(a *attempt.Attempt) (attemptDoc, error) {
	var (
		doc attemptDoc
		err error
	)
	encode := func(dst *[]byte, v any) {
		if err != nil {
			return
		}
		*dst, err = json.Marshal(v)
	}
	encode(&doc.questionOrder, a.QuestionOrder)
	encode(&doc.optionOrders, a.OptionOrders)
	encode(&doc.answers, a.Answers)
	encode(&doc.answerTimes, a.AnswerTimestamps)
	encode(&doc.startTimes, a.QuestionStartTimes)
	encode(&doc.hashes, a.QuestionHashes)
	if err != nil {
		return attemptDoc{}, fmt.Errorf("encode attempt: %w", err)
	}
	return doc, nil
}

func scanAttempt(row pgx.Row) (*attempt.Attempt, error) {
	var (
		a   attempt.Attempt
		doc attemptDoc
	)
	err := row.Scan(
		&a.ID, &a.Participant, &a.Date, &doc.questionOrder, &doc.optionOrders, &doc.answers,
		&doc.answerTimes, &doc.startTimes, &doc.hashes, &a.CurrentQuestionIndex,
		&a.Score, &a.TotalTimeMs, &a.AnswersSaved, &a.IsEligible, &a.EligibilityReason, &a.Counted,
		&a.DeviceID, &a.DeviceFingerprint, &a.IPAddress, &a.StartedAt, &a.CompletedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	decode := func(raw []byte, v any) {
		if err != nil || raw == nil {
			return
		}
		err = json.Unmarshal(raw, v)
	}
	decode(doc.questionOrder, &a.QuestionOrder)
	decode(doc.optionOrders, &a.OptionOrders)
	decode(doc.answers, &a.Answers)
	decode(doc.answerTimes, &a.AnswerTimestamps)
	decode(doc.startTimes, &a.QuestionStartTimes)
	decode(doc.hashes, &a.QuestionHashes)
	if err != nil {
		return nil, fmt.Errorf("decode attempt: %w", err)
	}
	return &a, nil
}

// Get returns the attempt for (participant, date), or (nil, nil) when the
// participant never joined.
func (r *AttemptRepository) Get(ctx context.Context, participant uuid.UUID, date string) (*attempt.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE participant_id = $1 AND quiz_date = $2`,
		participant, date,
	)
	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// Create inserts a fresh attempt. The unique (participant_id, quiz_date)
// constraint enforces one attempt per participant per quiz.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.Attempt) error {
	doc, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		a.ID, a.Participant, a.Date, doc.questionOrder, doc.optionOrders, doc.answers,
		doc.answerTimes, doc.startTimes, doc.hashes, a.CurrentQuestionIndex,
		a.Score, a.TotalTimeMs, a.AnswersSaved, a.IsEligible, a.EligibilityReason, a.Counted,
		a.DeviceID, a.DeviceFingerprint, a.IPAddress, a.StartedAt, a.CompletedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing attempt. Finalized
// attempts are immutable except for the settlement verdict fields, which the
// settlement engine alone rewrites.
func (r *AttemptRepository) Update(ctx context.Context, a *attempt.Attempt) error {
	doc, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE attempts SET
			option_orders = $1, answers = $2, answer_timestamps = $3,
			question_start_times = $4, question_hashes = $5, current_question_index = $6,
			score = $7, total_time_ms = $8, answers_saved = $9,
			is_eligible = $10, eligibility_reason = $11, counted = $12, completed_at = $13
		WHERE id = $14`,
		doc.optionOrders, doc.answers, doc.answerTimes,
		doc.startTimes, doc.hashes, a.CurrentQuestionIndex,
		a.Score, a.TotalTimeMs, a.AnswersSaved,
		a.IsEligible, a.EligibilityReason, a.Counted, a.CompletedAt,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attempt.ErrAttemptNotFound
	}
	return nil
}

// ListSaved returns every finalized attempt for a quiz-date, the settlement
// engine's input set.
func (r *AttemptRepository) ListSaved(ctx context.Context, date string) ([]*attempt.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE quiz_date = $1 AND answers_saved ORDER BY created_at`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("list saved attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*attempt.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
