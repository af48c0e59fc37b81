package inventory

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

type IncidentRepo struct{ DB *pgxpool.Pool }

// RecordIncident is idempotent on event id.
func (r *IncidentRepo) RecordIncident(ctx context.Context, in Incident) (bool, error) {
	writes, err := json.Marshal(in.Writes)
	if err != nil {
		return false, err
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO stock_incidents(event_id, op, order_id, writes, reason, detected_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		in.EventID, in.Op, in.OrderID, string(writes), in.Reason, in.DetectedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
