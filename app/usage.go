// Package app meters paid tool invocations against the credit ledger.
package app

import (
	"context"
	"time"

	"github.com/ehudso7/GhostTools/app/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Tool names recorded in usage history.
const (
	ToolAgentWrite = "agentwrite"
	ToolPodScribe  = "podscribe"
)

type quotaError struct {
	Balance int
}

func (e quotaError) Error() string {
	return "insufficient credits"
}

// consumeToolCredit charges one credit for a tool invocation and appends the
// usage entry, all in one transaction. Pro subscribers are not charged. The
// spend is a conditional atomic decrement, so a concurrent invocation can
// never drive the balance negative.
func consumeToolCredit(ctx context.Context, store BillingStore, userID, tool string) (remaining int, unlimited bool, err error) {
	return consumeToolCreditWith(ctx, store, userID, tool, nil)
}

// consumeToolCreditWith additionally runs also inside the same transaction,
// after the spend. An error from also rolls the charge back.
func consumeToolCreditWith(ctx context.Context, store BillingStore, userID, tool string, also func(tx BillingTx) error) (remaining int, unlimited bool, err error) {
	err = store.WithTx(ctx, func(tx BillingTx) error {
		sub, err := tx.CurrentSubscription(ctx, userID)
		if err != nil && err != ErrNotFound {
			return err
		}

		if sub.Current(nowUTC()) && sub.PlanID == models.PlanPro {
			unlimited = true
			if err := tx.AppendUsage(ctx, models.UsageEntry{
				UserID:      userID,
				Tool:        tool,
				CreditsUsed: 0,
			}); err != nil {
				return err
			}
			if also != nil {
				return also(tx)
			}
			return nil
		}

		if err := tx.SpendCredits(ctx, userID, 1); err != nil {
			if err == ErrInsufficientCredits {
				balance, berr := tx.CreditBalance(ctx, userID)
				if berr != nil {
					return berr
				}
				return quotaError{Balance: balance}
			}
			return err
		}

		if err := tx.AppendUsage(ctx, models.UsageEntry{
			UserID:      userID,
			Tool:        tool,
			CreditsUsed: 1,
		}); err != nil {
			return err
		}

		balance, err := tx.CreditBalance(ctx, userID)
		if err != nil {
			return err
		}
		remaining = balance
		if also != nil {
			return also(tx)
		}
		return nil
	})
	return remaining, unlimited, err
}

// hasEntitlement reports whether the user may invoke a paid tool at all:
// a current subscription or at least one credit.
func hasEntitlement(ctx context.Context, store BillingStore, userID string) (bool, error) {
	ok := false
	err := store.WithTx(ctx, func(tx BillingTx) error {
		sub, err := tx.CurrentSubscription(ctx, userID)
		if err != nil && err != ErrNotFound {
			return err
		}
		if sub.Current(nowUTC()) {
			ok = true
			return nil
		}
		balance, err := tx.CreditBalance(ctx, userID)
		if err != nil {
			return err
		}
		ok = balance > 0
		return nil
	})
	return ok, err
}
