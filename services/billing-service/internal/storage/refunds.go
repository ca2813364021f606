package storage

import (
	"context"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

// AppendRefund records one refund event. A replay of the same provider event
// is ignored and reported as inserted=false.
func (s *Store) AppendRefund(ctx context.Context, r model.Refund) (bool, error) {
	var created any
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO refunds (user_id, refund_id, provider_event_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_event_id) DO NOTHING
	`, r.UserID, r.RefundID, r.ProviderEventID, r.Amount, r.Status, created)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListRefunds(ctx context.Context, userID string) ([]model.Refund, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, refund_id, provider_event_id, amount, status, COALESCE(created_at, recorded_at), recorded_at
		FROM refunds
		WHERE user_id = $1
		ORDER BY recorded_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Refund{}
	for rows.Next() {
		var r model.Refund
		if err := rows.Scan(&r.ID, &r.UserID, &r.RefundID, &r.ProviderEventID, &r.Amount, &r.Status, &r.CreatedAt, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
