package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizdaily/live-quiz/internal/settlement"
)

// AuditRepository appends settlement audit records. The table is
// append-only; rows are never updated or deleted.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// RecordSettlement stores one settlement run with its full tie-break detail.
func (r *AuditRepository) RecordSettlement(ctx context.Context, rec settlement.AuditRecord) error {
	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (quiz_date, action, fencing_token, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Date, rec.Action, rec.FencingToken, detail, rec.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
