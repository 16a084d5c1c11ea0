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

	"github.com/quizdaily/live-quiz/internal/quiz"
)

// QuizRepository persists daily quizzes. Questions are stored as a JSONB
// document; lifecycle writes are guarded by the version column.
type QuizRepository struct {
	pool *pgxpool.Pool
}

func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

const quizColumns = `quiz_date, state, version, questions, class_grade, subscription_tier,
	locked_at, live_at, ended_at, result_published_at, created_at`

func scanQuiz(row pgx.Row) (*quiz.Quiz, error) {
	var (
		q   quiz.Quiz
		raw []byte
	)
	err := row.Scan(
		&q.Date, &q.State, &q.Version, &raw, &q.ClassGrade, &q.SubscriptionTier,
		&q.LockedAt, &q.LiveAt, &q.EndedAt, &q.ResultPublishedAt, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quiz.ErrNotFound
		}
		return nil, fmt.Errorf("scan quiz: %w", err)
	}
	if err := json.Unmarshal(raw, &q.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return &q, nil
}

// Create inserts a new quiz in DRAFT state. A second insert for the same
// date fails on the primary key.
func (r *QuizRepository) Create(ctx context.Context, q *quiz.Quiz) error {
	raw, err := json.Marshal(q.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO quizzes (quiz_date, state, version, questions, class_grade, subscription_tier, created_at)
		VALUES ($1, $2, 0, $3, $4, $5, now())`,
		q.Date, quiz.StateDraft, raw, q.ClassGrade, q.SubscriptionTier,
	)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

// GetByDate fetches the quiz for a date, quiz.ErrNotFound when absent.
func (r *QuizRepository) GetByDate(ctx context.Context, date string) (*quiz.Quiz, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE quiz_date = $1`, date)
	return scanQuiz(row)
}

// ListByState returns every quiz currently in the given lifecycle state.
func (r *QuizRepository) ListByState(ctx context.Context, state string) ([]*quiz.Quiz, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE state = $1 ORDER BY quiz_date`, state)
	if err != nil {
		return nil, fmt.Errorf("list quizzes by state: %w", err)
	}
	defer rows.Close()

	var quizzes []*quiz.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// CompareAndTransition commits a lifecycle edge only when the persisted
// (state, version) still match what the caller read. Returns false when a
// concurrent writer got there first.
func (r *QuizRepository) CompareAndTransition(ctx context.Context, date, fromState, toState string, version int64, at time.Time) (bool, error) {
	query := `UPDATE quizzes SET state = $1, version = version + 1`
	if field := quiz.TimestampField(toState); field != "" {
		query += `, ` + field + ` = $5`
	} else {
		query += `, updated_at = $5`
	}
	query += ` WHERE quiz_date = $2 AND state = $3 AND version = $4`

	tag, err := r.pool.Exec(ctx, query, toState, date, fromState, version, at)
	if err != nil {
		return false, fmt.Errorf("transition quiz: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateQuestions replaces the question set. Content is frozen from LIVE
// onward; attempting to edit a published quiz returns quiz.ErrQuizPublished.
func (r *QuizRepository) UpdateQuestions(ctx context.Context, date string, questions []quiz.Question) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE quizzes SET questions = $1, updated_at = now()
		WHERE quiz_date = $2 AND state IN ($3, $4, $5)`,
		raw, date, quiz.StateDraft, quiz.StateScheduled, quiz.StateLocked,
	)
	if err != nil {
		return fmt.Errorf("update questions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByDate(ctx, date); err != nil {
			return err
		}
		return quiz.ErrQuizPublished
	}
	return nil
}

// SaveEligibleSnapshot stores the LOCKED-time paid-participant snapshot.
// Re-running for the same date replaces the previous snapshot.
func (r *QuizRepository) SaveEligibleSnapshot(ctx context.Context, date string, participants []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM eligible_snapshots WHERE quiz_date = $1`, date); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	for _, p := range participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO eligible_snapshots (quiz_date, participant_id, snapshot_at)
			VALUES ($1, $2, now())`, date, p,
		); err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}
	return tx.Commit(ctx)
}
