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

// PaymentRepository reads payment records written by the payment
// collaborator. Settlement and eligibility only ever look at SUCCESS rows.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// SuccessfulPayment returns the SUCCESS payment for (participant, date), or
// (nil, nil) when none exists.
func (r *PaymentRepository) SuccessfulPayment(ctx context.Context, participant uuid.UUID, date string) (*eligibility.Payment, error) {
	var p eligibility.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, participant_id, quiz_date, status, paid_at
		FROM payments
		WHERE participant_id = $1 AND quiz_date = $2 AND status = $3
		ORDER BY paid_at DESC LIMIT 1`,
		participant, date, eligibility.PaymentStatusSuccess,
	).Scan(&p.ID, &p.Participant, &p.Date, &p.Status, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

// ListPaid returns the distinct participants with a SUCCESS payment for the
// date, the input for the LOCKED-time eligibility snapshot.
func (r *PaymentRepository) ListPaid(ctx context.Context, date string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT participant_id FROM payments
		WHERE quiz_date = $1 AND status = $2`,
		date, eligibility.PaymentStatusSuccess,
	)
	if err != nil {
		return nil, fmt.Errorf("list paid participants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
