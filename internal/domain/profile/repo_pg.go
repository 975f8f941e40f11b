package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mclinic/mclinic/internal/platform/db"
)

type profileRepoPG struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const profileCols = `id, full_name, email, user_type, user_bio, location, profile_image, created_at, updated_at`

func (r *profileRepoPG) GetByID(ctx context.Context, id string) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM users WHERE id = $1`, id))
}

func (r *profileRepoPG) Update(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			full_name     = COALESCE($2, full_name),
			email         = COALESCE($3, email),
			user_bio      = COALESCE($4, user_bio),
			location      = COALESCE($5, location),
			profile_image = COALESCE($6, profile_image),
			updated_at    = NOW()
		WHERE id = $1
		RETURNING `+profileCols,
		id, upd.FullName, upd.Email, upd.UserBio, upd.Location, upd.ProfileImage,
	))
}

func (r *profileRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*Profile, int, error) {
	query := `SELECT ` + profileCols + ` FROM users WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM users WHERE 1=1`
	var args []interface{}
	idx := 1

	if role != "" {
		query += fmt.Sprintf(` AND user_type = $%d`, idx)
		countQuery += fmt.Sprintf(` AND user_type = $%d`, idx)
		args = append(args, role)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY full_name, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.UserType, &p.UserBio, &p.Location,
		&p.ProfileImage, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
