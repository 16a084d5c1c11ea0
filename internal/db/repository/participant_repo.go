package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizdaily/live-quiz/internal/eligibility"
)

// ParticipantRepository reads participant profile snapshots. Registration
// and profile editing belong to the account service; this side only reads.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

// GetParticipant returns the profile, or (nil, nil) when unknown.
func (r *ParticipantRepository) GetParticipant(ctx context.Context, id uuid.UUID) (*eligibility.Participant, error) {
	var p eligibility.Participant
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(phone, ''), COALESCE(class_grade, ''), created_at
		FROM participants WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Phone, &p.ClassGrade, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}
