package profile

import (
	"errors"
	"time"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidUpdate   = errors.New("invalid profile request")
)

// Profile maps to the users table.
type Profile struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"fullName"`
	Email        string    `db:"email" json:"email"`
	UserType     string    `db:"user_type" json:"userType"`
	UserBio      *string   `db:"user_bio" json:"userBio,omitempty"`
	Location     *string   `db:"location" json:"location,omitempty"`
	ProfileImage *string   `db:"profile_image" json:"profileImage,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// ProfileUpdate is a partial update. Nil fields are left unchanged.
type ProfileUpdate struct {
	FullName     *string `json:"fullName,omitempty"`
	Email        *string `json:"email,omitempty"`
	UserBio      *string `json:"userBio,omitempty"`
	Location     *string `json:"location,omitempty"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Email == nil && u.UserBio == nil && u.Location == nil && u.ProfileImage == nil
}

func userTopic(userID string) string {
	return "user:" + userID
}
