package profile

import "context"

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	// Update applies the non-nil fields of upd and returns the new profile.
	Update(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error)
	// List returns profiles of role, or of every role when role is empty.
	List(ctx context.Context, role string, limit, offset int) ([]*Profile, int, error)
}
