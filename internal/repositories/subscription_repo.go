package repositories

import (
	"context"
	"fmt"
	"strings"

	"fitforge/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the subset of pgxpool.Pool the repositories use. pgxmock
// satisfies it in tests.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Upsert(ctx context.Context, userID uuid.UUID, update *models.SubscriptionUpdate) error
	List(ctx context.Context, limit, offset int) ([]*models.Subscription, error)
}

type subscriptionRepo struct {
	db Database
}

func NewSubscriptionRepo(db Database) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `user_id, status, plan_type, customer_id, subscription_id,
		subscription_start_date, subscription_end_date, trial_end,
		last_payment_date, last_failed_payment, created_at, updated_at`

func (r *subscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, userID))
}

// Upsert merges the non-nil fields of update into the user's record, creating
// the record if it does not exist. The merge happens in a single statement so
// concurrent same-user writes cannot interleave partial field sets.
func (r *subscriptionRepo) Upsert(ctx context.Context, userID uuid.UUID, update *models.SubscriptionUpdate) error {
	if update == nil || update.IsZero() {
		return nil
	}

	cols := []string{"user_id"}
	args := []any{userID}

	add := func(col string, val any) {
		cols = append(cols, col)
		args = append(args, val)
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.PlanType != nil {
		add("plan_type", *update.PlanType)
	}
	if update.CustomerID != nil {
		add("customer_id", *update.CustomerID)
	}
	if update.SubscriptionID != nil {
		add("subscription_id", *update.SubscriptionID)
	}
	if update.SubscriptionStartDate != nil {
		add("subscription_start_date", *update.SubscriptionStartDate)
	}
	if update.SubscriptionEndDate != nil {
		add("subscription_end_date", *update.SubscriptionEndDate)
	}
	if update.ClearTrialEnd {
		add("trial_end", nil)
	} else if update.TrialEnd != nil {
		add("trial_end", *update.TrialEnd)
	}
	if update.LastPaymentDate != nil {
		add("last_payment_date", *update.LastPaymentDate)
	}
	if update.LastFailedPayment != nil {
		add("last_failed_payment", *update.LastFailedPayment)
	}

	placeholders := make([]string, len(cols))
	setClauses := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "user_id" {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		INSERT INTO subscriptions (%s, created_at, updated_at)
		VALUES (%s, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET %s
	`, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(setClauses, ", "))

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *subscriptionRepo) List(ctx context.Context, limit, offset int) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subscriptions []*models.Subscription
	for rows.Next() {
		sub, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, rows.Err()
}

func (r *subscriptionRepo) scanOne(row pgx.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var status string
	err := row.Scan(&sub.UserID, &status, &sub.PlanType, &sub.CustomerID, &sub.SubscriptionID,
		&sub.SubscriptionStartDate, &sub.SubscriptionEndDate, &sub.TrialEnd,
		&sub.LastPaymentDate, &sub.LastFailedPayment, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	return sub, nil
}
