// Package app provides user persistence helpers for authenticated requests.
package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ehudso7/GhostTools/app/models"
	"github.com/ehudso7/GhostTools/auth"
)

// UpsertUserFromClaims creates a user row if it does not already exist.
// Users are keyed by the verified email claim.
func UpsertUserFromClaims(ctx context.Context, claims *auth.Claims) error {
	if db == nil {
		return nil
	}
	if claims == nil || claims.Email == "" {
		return nil
	}

	const q = `
		INSERT INTO users (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING;
	`

	_, err := db.ExecContext(ctx, q, claims.Email, nullIfEmpty(claims.Name))
	return err
}

func getUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name, ''), COALESCE(stripe_customer_id, ''), created_at
		FROM users
		WHERE email = $1;
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.StripeCustomerID, &user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// currentUser resolves the authenticated user row for a request, creating it
// on first sight when the claims carry an email.
func currentUser(ctx context.Context, claims *auth.Claims) (models.User, error) {
	if claims == nil || claims.Email == "" {
		return models.User{}, errors.New("missing email claim")
	}
	user, err := getUserByEmail(ctx, claims.Email)
	if errors.Is(err, sql.ErrNoRows) {
		if err := UpsertUserFromClaims(ctx, claims); err != nil {
			return models.User{}, err
		}
		user, err = getUserByEmail(ctx, claims.Email)
	}
	return user, err
}
