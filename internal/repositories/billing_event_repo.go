package repositories

import (
	"context"
	"time"

	"fitforge/internal/models"
)

type BillingEventRepository interface {
	Record(ctx context.Context, event *models.BillingEvent) error
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.BillingEvent, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type billingEventRepo struct {
	db Database
}

func NewBillingEventRepo(db Database) BillingEventRepository {
	return &billingEventRepo{db: db}
}

// Record is idempotent on event_id: a redelivered event that already has an
// audit row is silently a no-op.
func (r *billingEventRepo) Record(ctx context.Context, event *models.BillingEvent) error {
	query := `
		INSERT INTO billing_events (id, event_id, event_type, user_id, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.EventID, event.EventType, event.UserID, string(event.Outcome), event.Detail)
	return err
}

func (r *billingEventRepo) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM billing_events WHERE event_id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *billingEventRepo) ListRecent(ctx context.Context, limit, offset int) ([]*models.BillingEvent, error) {
	query := `
		SELECT id, event_id, event_type, user_id, outcome, detail, created_at
		FROM billing_events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.BillingEvent
	for rows.Next() {
		event := &models.BillingEvent{}
		var outcome string
		if err := rows.Scan(&event.ID, &event.EventID, &event.EventType, &event.UserID, &outcome, &event.Detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Outcome = models.BillingEventOutcome(outcome)
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *billingEventRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM billing_events WHERE created_at < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
