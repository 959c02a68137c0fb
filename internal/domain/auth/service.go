package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/core/entity"
	"docchat/internal/core/id"
	"docchat/internal/core/schema"
	"docchat/internal/domain"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// Service manages accounts and turns bearer tokens into request identities.
type Service struct {
	users      domain.Repository[User]
	jwtService *JWTService
	log        *logger.Logger
}

// NewService creates a new auth service.
func NewService(users domain.Repository[User], jwtService *JWTService, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{users: users, jwtService: jwtService, log: log.WithComponent("auth")}
}

// CreateUser registers a local account.
func (s *Service) CreateUser(ctx context.Context, req NewUserRequest) (*User, error) {
	if err := schema.Check(req); err != nil {
		return nil, err
	}

	for field, value := range map[string]string{"email": req.Email, "username": req.Username} {
		exists, err := s.users.Exists(ctx, query.New().Where(field, value))
		if err != nil {
			return nil, fmt.Errorf("check %s exists: %w", field, err)
		}
		if exists {
			return nil, apperror.NewDuplicate("user", field, value)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, map[string]any{
		"uuid":            id.New(),
		"username":        req.Username,
		"email":           req.Email,
		"hashed_password": string(hash),
		"auth_type":       ProviderLocal,
		"tier_id":         req.TierID,
		"is_superuser":    req.IsSuperuser,
		"is_active":       true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.WithContext(ctx).Infow("user created", "user_id", user.ID, "superuser", user.IsSuperuser)
	return user, nil
}

// GetByEmail returns the user or nil.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	users, err := s.users.GetAll(ctx, query.New().Where("email", email).Page(1, 0))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, cred Credentials) (*TokenPair, error) {
	if err := schema.Check(cred); err != nil {
		return nil, err
	}

	invalid := apperror.NewUnauthorized("invalid email or password")
	user, err := s.GetByEmail(ctx, cred.Email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.HashedPassword == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.HashedPassword), []byte(cred.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, invalid
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if err := user.CanLogin(); err != nil {
		return nil, err
	}

	if _, err := s.users.Update(ctx, map[string]any{"last_login": time.Now()}, query.ByID(user.ID).WithoutData()); err != nil {
		s.log.WithContext(ctx).Warnw("record login failed", "user_id", user.ID, "error", err)
	}
	return s.issue(user)
}

// IssueToken signs a token for an existing, active user.
func (s *Service) IssueToken(ctx context.Context, userID int64) (*TokenPair, error) {
	user, err := s.users.Get(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NewNotFound("user", userID)
	}
	if err := user.CanLogin(); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *Service) issue(user *User) (*TokenPair, error) {
	token, expiresAt, err := s.jwtService.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: token, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}

// Resolve validates a bearer token and loads the identity it names. The
// account must still exist and be active.
func (s *Service) Resolve(ctx context.Context, token string) (*appctx.UserContext, error) {
	claims, err := s.jwtService.ValidateToken(token)
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid or expired token").WithCause(err)
	}
	userID, _ := claims.UserID()

	user, err := s.users.Get(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NewUnauthorized("user not found")
	}
	if err := user.CanLogin(); err != nil {
		return nil, err
	}
	return user.Context(), nil
}

// Deactivate soft-deletes the account and blocks its tokens.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	data := entity.SoftDeleteFields(time.Now())
	data["is_active"] = false

	res, err := s.users.Update(ctx, data, query.ByID(userID))
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if res == nil || res.Item == nil {
		return apperror.NewNotFound("user", userID)
	}
	return nil
}
