package identity

import "context"

type AccountRepository interface {
	// Create stores the account and its user record atomically. It returns
	// ErrEmailInUse when the email is taken.
	Create(ctx context.Context, a *Account, u *NewUser) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByUserID(ctx context.Context, userID string) (*Account, error)
	UpdatePassword(ctx context.Context, userID, hash string) error
	UpdateEmail(ctx context.Context, userID, email string) error
}
