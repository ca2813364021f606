package storage

import (
	"context"
)

// EventSeen reports whether a provider event id was already processed.
func (s *Store) EventSeen(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM provider_events WHERE provider = $1 AND provider_event_id = $2)
	`, provider, eventID).Scan(&seen)
	return seen, err
}

// RecordEvent marks a provider event as processed. Recording twice is a no-op.
func (s *Store) RecordEvent(ctx context.Context, provider, eventID, eventType string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID, eventType)
	return err
}
