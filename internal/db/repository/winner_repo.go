package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizdaily/live-quiz/internal/quiz"
)

// WinnerRepository persists the settled winners snapshot.
type WinnerRepository struct {
	pool *pgxpool.Pool
}

func NewWinnerRepository(pool *pgxpool.Pool) *WinnerRepository {
	return &WinnerRepository{pool: pool}
}

// Replace swaps the full winners set for a date in one transaction. Readers
// never observe a partially written ranking.
func (r *WinnerRepository) Replace(ctx context.Context, date string, winners []quiz.Winner) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin winners tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM winners WHERE quiz_date = $1`, date); err != nil {
		return fmt.Errorf("clear winners: %w", err)
	}
	for _, w := range winners {
		if _, err := tx.Exec(ctx, `
			INSERT INTO winners (quiz_date, participant_id, rank, score, total_time_ms, quiz_hash, answers_hash, snapshot_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			w.Date, w.Participant, w.Rank, w.Score, w.TotalTimeMs, w.QuizHash, w.AnswersHash, w.SnapshotAt,
		); err != nil {
			return fmt.Errorf("insert winner rank %d: %w", w.Rank, err)
		}
	}
	return tx.Commit(ctx)
}

// ListByDate returns the winners for a date ordered by rank.
func (r *WinnerRepository) ListByDate(ctx context.Context, date string) ([]quiz.Winner, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT quiz_date, participant_id, rank, score, total_time_ms, quiz_hash, answers_hash, snapshot_at
		FROM winners WHERE quiz_date = $1 ORDER BY rank`, date)
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	defer rows.Close()

	var winners []quiz.Winner
	for rows.Next() {
		var w quiz.Winner
		if err := rows.Scan(&w.Date, &w.Participant, &w.Rank, &w.Score, &w.TotalTimeMs, &w.QuizHash, &w.AnswersHash, &w.SnapshotAt); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		winners = append(winners, w)
	}
	return winners, rows.Err()
}
