// Package auth provides user accounts, credentials and bearer tokens.
package auth

import (
	"time"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/core/entity"
)

// Table is the users table.
const Table = "users"

// AuthProvider is how a user signs in.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
	ProviderGithub AuthProvider = "github"
)

// User represents an account.
type User struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete
	Username        string       `db:"username" json:"username" validate:"required,max=50"`
	Email           string       `db:"email" json:"email" validate:"required,email,max=255"`
	HashedPassword  *string      `db:"hashed_password" json:"-"`
	AuthType        AuthProvider `db:"auth_type" json:"auth_type" validate:"required,oneof=local google github"`
	TierID          *int64       `db:"tier_id" json:"tier_id,omitempty"`
	IsSuperuser     bool         `db:"is_superuser" json:"is_superuser"`
	IsActive        bool         `db:"is_active" json:"is_active"`
	LastLogin       *time.Time   `db:"last_login" json:"last_login,omitempty"`
	ProfileImageURL *string      `db:"profile_image_url" json:"profile_image_url,omitempty"`
}

// CanLogin checks if user can authenticate.
func (u *User) CanLogin() error {
	if u.IsDeleted {
		return apperror.NewUnauthorized("account no longer exists")
	}
	if !u.IsActive {
		return apperror.NewForbidden("account is disabled")
	}
	return nil
}

// Context returns the request identity for this user.
func (u *User) Context() *appctx.UserContext {
	return &appctx.UserContext{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		TierID:      u.TierID,
		IsSuperuser: u.IsSuperuser,
	}
}

// Credentials for login.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// NewUserRequest describes an account to create.
type NewUserRequest struct {
	Username    string `validate:"required,max=50"`
	Email       string `validate:"required,email"`
	Password    string `validate:"required,min=8"`
	TierID      *int64
	IsSuperuser bool
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}
