package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehudso7/GhostTools/app/models"
)

// MemoryStore is an in-memory BillingStore. It backs handler tests and local
// runs without Postgres; transactions roll back by restoring a snapshot.
type MemoryStore struct {
	mu sync.Mutex

	Users         map[string]models.User // by user ID
	Credits       map[string]int         // user ID -> balance
	Subscriptions map[string]models.Subscription
	Payments      []models.Payment
	Usage         []models.UsageEntry
	SeenEvents    map[string]bool
	Jobs          map[string]models.TranscriptionJob

	// JobCreateErr, when set, fails CreateTranscriptionJob.
	JobCreateErr error

	seq int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Users:         make(map[string]models.User),
		Credits:       make(map[string]int),
		Subscriptions: make(map[string]models.Subscription),
		SeenEvents:    make(map[string]bool),
		Jobs:          make(map[string]models.TranscriptionJob),
	}
}

// AddUser seeds a user row and returns its generated ID.
func (s *MemoryStore) AddUser(email, name, stripeCustomerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("user_%d", s.seq)
	s.Users[id] = models.User{
		ID:               id,
		Email:            email,
		Name:             name,
		StripeCustomerID: stripeCustomerID,
		CreatedAt:        time.Now().UTC(),
	}
	return id
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx BillingTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	credits       map[string]int
	subscriptions map[string]models.Subscription
	payments      []models.Payment
	usage         []models.UsageEntry
	seenEvents    map[string]bool
	jobs          map[string]models.TranscriptionJob
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		credits:       make(map[string]int, len(s.Credits)),
		subscriptions: make(map[string]models.Subscription, len(s.Subscriptions)),
		payments:      append([]models.Payment(nil), s.Payments...),
		usage:         append([]models.UsageEntry(nil), s.Usage...),
		seenEvents:    make(map[string]bool, len(s.SeenEvents)),
		jobs:          make(map[string]models.TranscriptionJob, len(s.Jobs)),
	}
	for k, v := range s.Credits {
		snap.credits[k] = v
	}
	for k, v := range s.Subscriptions {
		snap.subscriptions[k] = v
	}
	for k, v := range s.SeenEvents {
		snap.seenEvents[k] = v
	}
	for k, v := range s.Jobs {
		snap.jobs[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.Credits = snap.credits
	s.Subscriptions = snap.subscriptions
	s.Payments = snap.payments
	s.Usage = snap.usage
	s.SeenEvents = snap.seenEvents
	s.Jobs = snap.jobs
}

// memTx mutates the store directly; WithTx holds the lock and restores the
// snapshot when fn fails.
type memTx struct {
	store *MemoryStore
}

func (t *memTx) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range t.store.Users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	for _, u := range t.store.Users {
		if u.StripeCustomerID == customerID {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) AddCredits(ctx context.Context, userID string, amount int) error {
	t.store.Credits[userID] += amount
	return nil
}

func (t *memTx) SetCredits(ctx context.Context, userID string, amount int) error {
	t.store.Credits[userID] = amount
	return nil
}

func (t *memTx) SpendCredits(ctx context.Context, userID string, amount int) error {
	if t.store.Credits[userID] < amount {
		return ErrInsufficientCredits
	}
	t.store.Credits[userID] -= amount
	return nil
}

func (t *memTx) CreditBalance(ctx context.Context, userID string) (int, error) {
	return t.store.Credits[userID], nil
}

func (t *memTx) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	now := time.Now().UTC()
	if existing, ok := t.store.Subscriptions[sub.StripeID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		t.store.seq++
		sub.ID = fmt.Sprintf("sub_row_%d", t.store.seq)
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	t.store.Subscriptions[sub.StripeID] = sub
	return nil
}

func (t *memTx) SubscriptionByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	sub, ok := t.store.Subscriptions[stripeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (t *memTx) CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	now := time.Now().UTC()
	var best *models.Subscription
	for stripeID := range t.store.Subscriptions {
		sub := t.store.Subscriptions[stripeID]
		if sub.UserID != userID || !sub.Current(now) {
			continue
		}
		if best == nil || sub.CreatedAt.After(best.CreatedAt) {
			s := sub
			best = &s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (t *memTx) MarkSubscriptionCanceled(ctx context.Context, stripeID string, endedAt time.Time) error {
	sub, ok := t.store.Subscriptions[stripeID]
	if !ok {
		return nil
	}
	sub.Status = "canceled"
	sub.EndDate = endedAt
	sub.UpdatedAt = time.Now().UTC()
	t.store.Subscriptions[stripeID] = sub
	return nil
}

func (t *memTx) MarkSubscriptionPastDue(ctx context.Context, stripeID string) error {
	sub, ok := t.store.Subscriptions[stripeID]
	if !ok {
		return nil
	}
	sub.Status = "past_due"
	sub.UpdatedAt = time.Now().UTC()
	t.store.Subscriptions[stripeID] = sub
	return nil
}

func (t *memTx) ExtendSubscriptionPeriod(ctx context.Context, stripeID string, endDate time.Time) error {
	sub, ok := t.store.Subscriptions[stripeID]
	if !ok {
		return nil
	}
	sub.EndDate = endDate
	sub.UpdatedAt = time.Now().UTC()
	t.store.Subscriptions[stripeID] = sub
	return nil
}

func (t *memTx) AppendPayment(ctx context.Context, p models.Payment) error {
	p.CreatedAt = time.Now().UTC()
	t.store.Payments = append(t.store.Payments, p)
	return nil
}

func (t *memTx) AppendUsage(ctx context.Context, entry models.UsageEntry) error {
	entry.CreatedAt = time.Now().UTC()
	t.store.Usage = append(t.store.Usage, entry)
	return nil
}

func (t *memTx) CreateTranscriptionJob(ctx context.Context, job models.TranscriptionJob) error {
	if t.store.JobCreateErr != nil {
		return t.store.JobCreateErr
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	t.store.Jobs[job.ID] = job
	return nil
}

func (t *memTx) SetTranscriptionJobStatus(ctx context.Context, jobID, status string) error {
	job, ok := t.store.Jobs[jobID]
	if !ok {
		return nil
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	t.store.Jobs[jobID] = job
	return nil
}

func (t *memTx) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	if t.store.SeenEvents[eventID] {
		return false, nil
	}
	t.store.SeenEvents[eventID] = true
	return true, nil
}
