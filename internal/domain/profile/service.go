package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/internal/platform/blobstore"
	"github.com/mclinic/mclinic/internal/platform/events"
)

// EmailUpdater changes the sign-in email of a user. It is implemented by
// the identity service. EmailChanged is called only after the update is
// committed.
type EmailUpdater interface {
	UpdateEmail(ctx context.Context, userID, email string) error
	EmailChanged(ctx context.Context, userID string)
}

// TxFunc runs fn in a transaction. Repositories called with the context
// passed to fn take part in it.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// NoTx runs fn directly. It is used where there is no database.
func NoTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	profiles ProfileRepository
	emails   EmailUpdater
	blobs    blobstore.Store
	bus      events.Bus
	inTx     TxFunc
	baseURL  string
	logger   zerolog.Logger
}

func NewService(profiles ProfileRepository, emails EmailUpdater, blobs blobstore.Store, bus events.Bus, inTx TxFunc, baseURL string, logger zerolog.Logger) *Service {
	if inTx == nil {
		inTx = NoTx
	}
	return &Service{
		profiles: profiles,
		emails:   emails,
		blobs:    blobs,
		bus:      bus,
		inTx:     inTx,
		baseURL:  baseURL,
		logger:   logger.With().Str("component", "profile").Logger(),
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.profiles.GetByID(ctx, userID)
}

// UpdateProfile applies the fields present in upd. An email change is made
// on the account first so both stay in step.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*Profile, error) {
	if upd.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidUpdate)
	}
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return nil, fmt.Errorf("%w: fullName must not be empty", ErrInvalidUpdate)
		}
		upd.FullName = &name
	}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		upd.Email = &email
	}

	var p *Profile
	err := s.inTx(ctx, func(ctx context.Context) error {
		if upd.Email != nil {
			if err := s.emails.UpdateEmail(ctx, userID, *upd.Email); err != nil {
				return err
			}
		}
		var err error
		p, err = s.profiles.Update(ctx, userID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		s.emails.EmailChanged(ctx, userID)
	}
	s.publish(ctx, p)
	return p, nil
}

// WatchProfile calls handler with the current profile of userID and again
// after every update, until the returned function is called. handler must
// not block and must not call the returned function.
func (s *Service) WatchProfile(ctx context.Context, userID string, handler func(*Profile)) (func(), error) {
	var (
		mu     sync.Mutex
		closed bool
	)

	mu.Lock()
	defer mu.Unlock()

	unsub := s.bus.Subscribe(userTopic(userID), func(e events.Event) {
		var p Profile
		if err := json.Unmarshal(e.Data, &p); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("decode profile event")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			handler(&p)
		}
	})

	current, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		unsub()
		return nil, err
	}
	handler(current)

	return func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		unsub()
	}, nil
}

func (s *Service) ListProfiles(ctx context.Context, role string, limit, offset int) ([]*Profile, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, fmt.Errorf("%w: role must be %s or %s", ErrInvalidUpdate, auth.RoleDoctor, auth.RolePatient)
	}
	return s.profiles.List(ctx, role, limit, offset)
}

// UploadProfileImage stores an image as the user's profile picture and
// points the profile at it.
func (s *Service) UploadProfileImage(ctx context.Context, userID, contentType string, content io.Reader) (*Profile, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: profile images must be images", blobstore.ErrInvalidContentType)
	}
	if _, err := s.profiles.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	b, err := s.blobs.Put(ctx, blobstore.Blob{
		Key:         blobstore.ProfileImageKey(userID),
		ContentType: contentType,
		CreatedBy:   userID,
	}, content)
	if err != nil {
		return nil, err
	}

	// The key never changes, so the hash makes the URL change with the image.
	url := blobstore.URL(s.baseURL, b.Key) + "?v=" + b.Hash[:12]
	return s.UpdateProfile(ctx, userID, ProfileUpdate{ProfileImage: &url})
}

func (s *Service) publish(ctx context.Context, p *Profile) {
	e, err := events.NewEvent(userTopic(p.ID), "profile_updated", p)
	if err == nil {
		err = s.bus.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", p.ID).Msg("publish profile update")
	}
}

// UserType returns the account type of userID.
func (s *Service) UserType(ctx context.Context, userID string) (string, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.UserType, nil
}
