package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ehudso7/GhostTools/app/config"
	"github.com/ehudso7/GhostTools/app/models"

	_ "github.com/lib/pq"
)

var db *sql.DB

// MustInitDB initializes the global db and panics/logs fatally on error.
func MustInitDB() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.URL,
		cfg.DB.Port,
		cfg.DB.Database,
	)

	d, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("sql.Open: %v", err)
	}

	if err := d.Ping(); err != nil {
		log.Fatalf("db.Ping: %v", err)
	}

	log.Println("Connected to Postgres")
	db = d
}

// PostgresStore implements BillingStore over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(d *sql.DB) *PostgresStore {
	return &PostgresStore{db: d}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx BillingTx) error) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), COALESCE(stripe_customer_id, ''), created_at
		FROM users
		WHERE email = $1;
	`, email))
}

func (t *pgTx) UserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), COALESCE(stripe_customer_id, ''), created_at
		FROM users
		WHERE stripe_customer_id = $1;
	`, customerID))
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.StripeCustomerID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *pgTx) AddCredits(ctx context.Context, userID string, amount int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credits (user_id, amount)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET amount = credits.amount + EXCLUDED.amount;
	`, userID, amount)
	return err
}

func (t *pgTx) SetCredits(ctx context.Context, userID string, amount int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credits (user_id, amount)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET amount = EXCLUDED.amount;
	`, userID, amount)
	return err
}

func (t *pgTx) SpendCredits(ctx context.Context, userID string, amount int) error {
	// Conditional decrement: the check and the write are one statement, so
	// concurrent spends cannot race the balance below zero.
	res, err := t.tx.ExecContext(ctx, `
		UPDATE credits
		SET amount = amount - $2
		WHERE user_id = $1 AND amount >= $2;
	`, userID, amount)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (t *pgTx) CreditBalance(ctx context.Context, userID string) (int, error) {
	var amount int
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM credits WHERE user_id = $1;
	`, userID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (t *pgTx) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, stripe_id, status, plan_id, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_id) DO UPDATE
		SET status = EXCLUDED.status,
		    plan_id = EXCLUDED.plan_id,
		    start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    updated_at = now();
	`, sub.UserID, sub.StripeID, sub.Status, sub.PlanID, sub.StartDate, sub.EndDate)
	return err
}

func (t *pgTx) SubscriptionByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	return scanSubscription(t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, stripe_id, status, plan_id, start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE stripe_id = $1;
	`, stripeID))
}

func (t *pgTx) CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return scanSubscription(t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, stripe_id, status, plan_id, start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		  AND (status = 'active' OR (status = 'canceled' AND end_date > now()))
		ORDER BY created_at DESC
		LIMIT 1;
	`, userID))
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.StripeID, &s.Status, &s.PlanID,
		&s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) MarkSubscriptionCanceled(ctx context.Context, stripeID string, endedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', end_date = $2, updated_at = now()
		WHERE stripe_id = $1;
	`, stripeID, endedAt)
	return err
}

func (t *pgTx) MarkSubscriptionPastDue(ctx context.Context, stripeID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = now()
		WHERE stripe_id = $1;
	`, stripeID)
	return err
}

func (t *pgTx) ExtendSubscriptionPeriod(ctx context.Context, stripeID string, endDate time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET end_date = $2, updated_at = now()
		WHERE stripe_id = $1;
	`, stripeID, endDate)
	return err
}

func (t *pgTx) AppendPayment(ctx context.Context, p models.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_history
			(user_id, stripe_session_id, stripe_subscription_id, amount, status, type, referral_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`, p.UserID,
		nullIfEmpty(p.StripeSessionID),
		nullIfEmpty(p.StripeSubscriptionID),
		p.Amount, p.Status, p.Type,
		nullIfEmpty(p.ReferralID))
	return err
}

func (t *pgTx) AppendUsage(ctx context.Context, entry models.UsageEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO usage_history (user_id, tool, credits_used)
		VALUES ($1, $2, $3);
	`, entry.UserID, entry.Tool, entry.CreditsUsed)
	return err
}

func (t *pgTx) CreateTranscriptionJob(ctx context.Context, job models.TranscriptionJob) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transcription_jobs (id, user_id, episode_url, status)
		VALUES ($1, $2, $3, $4);
	`, job.ID, job.UserID, job.EpisodeURL, job.Status)
	return err
}

func (t *pgTx) SetTranscriptionJobStatus(ctx context.Context, jobID, status string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE transcription_jobs
		SET status = $2, updated_at = now()
		WHERE id = $1;
	`, jobID, status)
	return err
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING;
	`, eventID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// LoadUsageHistory reads the most recent usage entries for a user.
func LoadUsageHistory(ctx context.Context, userID string, limit int) ([]models.UsageEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tool, credits_used, created_at
		FROM usage_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2;
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UsageEntry
	for rows.Next() {
		e := models.UsageEntry{UserID: userID}
		if err := rows.Scan(&e.Tool, &e.CreditsUsed, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
