package identity

import (
	"errors"
	"time"
)

var (
	ErrEmailInUse    = errors.New("email address is already in use")
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrTryAgainLater = errors.New("an error occurred, please try again later")
)

// Account holds the credentials of a user. The profile itself lives in the
// users table and is owned by the profile package.
type Account struct {
	UserID            string    `db:"user_id" json:"userId"`
	Email             string    `db:"email" json:"email"`
	PasswordHash      string    `db:"password_hash" json:"-"`
	Role              string    `db:"user_type" json:"userType"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
	PasswordChangedAt time.Time `db:"password_changed_at" json:"passwordChangedAt"`
}

// NewUser is the profile record written together with the account at signup.
type NewUser struct {
	ID       string
	FullName string
	Email    string
	UserType string
}

// Session is a signed-in user and the token that proves it.
type Session struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SignUpResult is returned by SignUp. The new user is signed in.
type SignUpResult struct {
	Role    string   `json:"role"`
	Session *Session `json:"session"`
}

// Auth state change reasons.
const (
	ReasonInitial            = "initial"
	ReasonSignedIn           = "signed_in"
	ReasonSignedOut          = "signed_out"
	ReasonCredentialsChanged = "credentials_changed"
)

// AuthState is delivered to OnAuthStateChange handlers.
type AuthState struct {
	UserID   string `json:"userId"`
	SignedIn bool   `json:"signedIn"`
	Reason   string `json:"reason"`

	// SessionID names the session that ended, on signed_out.
	SessionID string `json:"sessionId,omitempty"`
}

func authTopic(userID string) string {
	return "auth:" + userID
}
