package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mclinic/mclinic/internal/platform/db"
)

type accountRepoPG struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) AccountRepository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const accountCols = `a.user_id, a.email, a.password_hash, u.user_type,
	a.created_at, a.updated_at, a.password_changed_at`

func (r *accountRepoPG) Create(ctx context.Context, a *Account, u *NewUser) error {
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO users (id, full_name, email, user_type)
			VALUES ($1, $2, $3, $4)`,
			u.ID, u.FullName, u.Email, u.UserType,
		); err != nil {
			return err
		}
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO accounts (user_id, email, password_hash)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at, password_changed_at`,
			a.UserID, a.Email, a.PasswordHash,
		).Scan(&a.CreatedAt, &a.UpdatedAt, &a.PasswordChangedAt)
	})
	if db.IsUniqueViolation(err) {
		return ErrEmailInUse
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accountCols+`
		FROM accounts a JOIN users u ON u.id = a.user_id
		WHERE LOWER(a.email) = LOWER($1)`, email))
}

func (r *accountRepoPG) GetByUserID(ctx context.Context, userID string) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accountCols+`
		FROM accounts a JOIN users u ON u.id = a.user_id
		WHERE a.user_id = $1`, userID))
}

func (r *accountRepoPG) UpdatePassword(ctx context.Context, userID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW()
		WHERE user_id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *accountRepoPG) UpdateEmail(ctx context.Context, userID, email string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET email = $2, updated_at = NOW()
		WHERE user_id = $1`, userID, email)
	if db.IsUniqueViolation(err) {
		return ErrEmailInUse
	}
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.UserID, &a.Email, &a.PasswordHash, &a.Role,
		&a.CreatedAt, &a.UpdatedAt, &a.PasswordChangedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
