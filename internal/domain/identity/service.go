package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/internal/platform/events"
)

type Service struct {
	accounts AccountRepository
	tokens   *auth.TokenIssuer
	revoked  auth.RevocationStore
	bus      events.Bus
	logger   zerolog.Logger
	sessions *sessionSet
	cost     int
	now      func() time.Time
}

func NewService(accounts AccountRepository, tokens *auth.TokenIssuer, revoked auth.RevocationStore, bus events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		revoked:  revoked,
		bus:      bus,
		logger:   logger.With().Str("component", "identity").Logger(),
		sessions: newSessionSet(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// unexpected folds any failure the caller cannot act on into ErrTryAgainLater.
func unexpected(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTryAgainLater, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates the account and its user record, then signs the user in.
func (s *Service) SignUp(ctx context.Context, fullName, email, password, role string) (*SignUpResult, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, fmt.Errorf("fullName is required")
	}
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("userType must be %s or %s", auth.RoleDoctor, auth.RolePatient)
	}
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, unexpected("hash password", err)
	}

	userID := uuid.New().String()
	acct := &Account{UserID: userID, Email: email, PasswordHash: string(hash), Role: role}
	err = s.accounts.Create(ctx, acct, &NewUser{ID: userID, FullName: fullName, Email: email, UserType: role})
	if errors.Is(err, ErrEmailInUse) {
		return nil, ErrEmailInUse
	}
	if err != nil {
		return nil, unexpected("sign up", err)
	}

	sess, err := s.startSession(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{Role: role, Session: sess}, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	acct, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, unexpected("sign in", err)
	}
	if err := checkPassword(acct.PasswordHash, password); err != nil {
		return nil, err
	}
	return s.startSession(ctx, acct.UserID, acct.Role)
}

func checkPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrWrongPassword
	}
	if err != nil {
		return unexpected("check password", err)
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, userID, role string) (*Session, error) {
	token, claims, err := s.tokens.Issue(userID, role)
	if err != nil {
		return nil, unexpected("issue token", err)
	}
	s.sessions.add(userID, claims.ID, claims.ExpiresAt.Time)
	s.publish(ctx, AuthState{UserID: userID, SignedIn: true, Reason: ReasonSignedIn})
	return &Session{UserID: userID, Role: role, Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// SignOut revokes token. The token is rejected by every later request.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time); err != nil {
		return unexpected("revoke session", err)
	}
	s.sessions.remove(claims.Subject, claims.ID)
	s.publish(ctx, AuthState{
		UserID:    claims.Subject,
		SignedIn:  s.sessions.active(claims.Subject, s.now()),
		Reason:    ReasonSignedOut,
		SessionID: claims.ID,
	})
	return nil
}

// CurrentUser returns the user carried by ctx, if any.
func (s *Service) CurrentUser(ctx context.Context) (string, bool) {
	id := auth.UserIDFromContext(ctx)
	return id, id != ""
}

func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, unexpected("get account", err)
	}
	return acct, nil
}

// VerifyPassword checks password against the stored hash for userID.
func (s *Service) VerifyPassword(ctx context.Context, userID, password string) error {
	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	return checkPassword(acct.PasswordHash, password)
}

func (s *Service) ChangePassword(ctx context.Context, userID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return unexpected("hash password", err)
	}
	err = s.accounts.UpdatePassword(ctx, userID, string(hash))
	if errors.Is(err, ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return unexpected("change password", err)
	}
	s.publish(ctx, AuthState{UserID: userID, SignedIn: true, Reason: ReasonCredentialsChanged})
	return nil
}

// UpdateEmail changes the sign-in email of userID. It may run inside a
// caller's transaction, so it announces nothing; the caller calls
// EmailChanged once the change is committed.
func (s *Service) UpdateEmail(ctx context.Context, userID, email string) error {
	err := s.accounts.UpdateEmail(ctx, userID, normalizeEmail(email))
	switch {
	case errors.Is(err, ErrEmailInUse), errors.Is(err, ErrUserNotFound):
		return err
	case err != nil:
		return unexpected("update email", err)
	}
	return nil
}

// EmailChanged tells auth state subscribers that userID's credentials
// changed.
func (s *Service) EmailChanged(ctx context.Context, userID string) {
	s.publish(ctx, AuthState{UserID: userID, SignedIn: true, Reason: ReasonCredentialsChanged})
}

// OnAuthStateChange calls handler with the current state of userID, then
// with every later change, until the returned function is called. handler
// must not block and must not call the returned function itself.
func (s *Service) OnAuthStateChange(ctx context.Context, userID string, handler func(AuthState)) func() {
	var (
		mu     sync.Mutex
		closed bool
	)
	deliver := func(st AuthState) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			handler(st)
		}
	}

	mu.Lock()
	unsub := s.bus.Subscribe(authTopic(userID), func(e events.Event) {
		var st AuthState
		if err := json.Unmarshal(e.Data, &st); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("decode auth event")
			return
		}
		deliver(st)
	})
	handler(AuthState{UserID: userID, SignedIn: s.signedIn(ctx, userID), Reason: ReasonInitial})
	mu.Unlock()

	return func() {
		mu.Lock()
		closed = true
		mu.Unlock()
		unsub()
	}
}

// WatchSessions calls ended with the id of every session of userID that is
// signed out, on this or any other instance, until the returned function is
// called. ended runs on the publisher's goroutine and must not block.
func (s *Service) WatchSessions(userID string, ended func(sessionID string)) func() {
	return s.bus.Subscribe(authTopic(userID), func(e events.Event) {
		if e.Type != ReasonSignedOut {
			return
		}
		var st AuthState
		if err := json.Unmarshal(e.Data, &st); err != nil || st.SessionID == "" {
			return
		}
		ended(st.SessionID)
	})
}

func (s *Service) signedIn(ctx context.Context, userID string) bool {
	if claims := auth.ClaimsFromContext(ctx); claims != nil && claims.Subject == userID {
		return true
	}
	return s.sessions.active(userID, s.now())
}

func (s *Service) publish(ctx context.Context, st AuthState) {
	e, err := events.NewEvent(authTopic(st.UserID), st.Reason, st)
	if err == nil {
		err = s.bus.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", st.UserID).Str("reason", st.Reason).Msg("publish auth state")
	}
}
