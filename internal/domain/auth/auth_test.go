package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/apperror"
	"docchat/internal/core/entity"
	"docchat/internal/domain/query"
)

// userRepo keeps users in memory; understands equality filters on
// id, email and username.
type userRepo struct {
	users []User
}

func (r *userRepo) Table() string { return Table }

func (r *userRepo) find(cfg *query.Config) []User {
	out := []User{}
	for _, u := range r.users {
		ok := true
		for field, v := range cfg.Filters {
			switch field {
			case "id":
				ok = ok && u.ID == v.(int64)
			case "email":
				ok = ok && u.Email == v.(string)
			case "username":
				ok = ok && u.Username == v.(string)
			}
		}
		if ok {
			out = append(out, u)
		}
	}
	return out
}

func (r *userRepo) Get(_ context.Context, id any, _ *query.Config) (*User, error) {
	found := r.find(query.ByID(id))
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (r *userRepo) GetAll(_ context.Context, cfg *query.Config) ([]User, error) {
	return r.find(cfg), nil
}

func (r *userRepo) Create(_ context.Context, data any, _ *query.Config) (*User, error) {
	d := data.(map[string]any)
	hash := d["hashed_password"].(string)
	u := User{
		Identity:       entity.Identity{ID: int64(len(r.users) + 1)},
		Username:       d["username"].(string),
		Email:          d["email"].(string),
		HashedPassword: &hash,
		AuthType:       d["auth_type"].(AuthProvider),
		IsSuperuser:    d["is_superuser"].(bool),
		IsActive:       d["is_active"].(bool),
	}
	r.users = append(r.users, u)
	return &u, nil
}

func (r *userRepo) Update(_ context.Context, data map[string]any, cfg *query.Config) (*query.Result[User], error) {
	for i := range r.users {
		if r.users[i].ID != cfg.Filters["id"].(int64) {
			continue
		}
		if v, ok := data["is_active"]; ok {
			r.users[i].IsActive = v.(bool)
		}
		if v, ok := data["is_deleted"]; ok {
			r.users[i].IsDeleted = v.(bool)
		}
		if v, ok := data["last_login"]; ok {
			at := v.(time.Time)
			r.users[i].LastLogin = &at
		}
		u := r.users[i]
		return &query.Result[User]{Single: true, Item: &u}, nil
	}
	return &query.Result[User]{Single: true}, nil
}

func (r *userRepo) Delete(context.Context, *query.Config) ([]User, error) { return nil, nil }

func (r *userRepo) Count(_ context.Context, cfg *query.Config) (int64, error) {
	return int64(len(r.find(cfg))), nil
}

func (r *userRepo) Exists(ctx context.Context, cfg *query.Config) (bool, error) {
	n, err := r.Count(ctx, cfg)
	return n > 0, err
}

func newTestService() (*Service, *userRepo) {
	repo := &userRepo{}
	return NewService(repo, NewJWTService(DefaultJWTConfig("test-secret")), nil), repo
}

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("s3cret"))

	token, exp, err := svc.GenerateAccessToken(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), exp, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.Equal(t, "alice", claims.Username)
}

func TestJWT_Rejects(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("s3cret"))
	other := NewJWTService(DefaultJWTConfig("other"))

	token, _, err := other.GenerateAccessToken(1, "bob")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err, "wrong secret")

	expired := NewJWTService(JWTConfig{Secret: "s3cret", Issuer: "docchat", AccessTokenTTL: -time.Minute})
	token, _, err = expired.GenerateAccessToken(1, "bob")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "docchat", Subject: "not-a-number"},
	})
	raw, err := bad.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(raw)
	assert.Error(t, err)
}

func TestService_CreateUserAndLogin(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, NewUserRequest{Username: "alice", Email: "alice@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "password1", *user.HashedPassword)

	_, err = svc.CreateUser(ctx, NewUserRequest{Username: "alice2", Email: "alice@example.com", Password: "password1"})
	assert.True(t, apperror.IsDuplicate(err))

	_, err = svc.CreateUser(ctx, NewUserRequest{Username: "x", Email: "not-an-email", Password: "short"})
	assert.True(t, apperror.IsValidation(err))

	pair, err := svc.Login(ctx, Credentials{Email: "alice@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotNil(t, repo.users[0].LastLogin)

	_, err = svc.Login(ctx, Credentials{Email: "alice@example.com", Password: "wrong-pass"})
	assert.Equal(t, apperror.CodeUnauthorized, mustAppErr(t, err).Code)

	_, err = svc.Login(ctx, Credentials{Email: "nobody@example.com", Password: "password1"})
	assert.Equal(t, apperror.CodeUnauthorized, mustAppErr(t, err).Code)
}

func TestService_Resolve(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, NewUserRequest{Username: "root", Email: "root@example.com", Password: "password1", IsSuperuser: true})
	require.NoError(t, err)

	pair, err := svc.IssueToken(ctx, user.ID)
	require.NoError(t, err)

	uc, err := svc.Resolve(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, uc.UserID)
	assert.True(t, uc.IsSuperuser)

	_, err = svc.Resolve(ctx, "garbage")
	assert.Equal(t, apperror.CodeUnauthorized, mustAppErr(t, err).Code)

	require.NoError(t, svc.Deactivate(ctx, user.ID))
	_, err = svc.Resolve(ctx, pair.AccessToken)
	assert.Error(t, err)

	_, err = svc.IssueToken(ctx, 999)
	assert.True(t, apperror.IsNotFound(err))
}

func mustAppErr(t *testing.T, err error) *apperror.AppError {
	t.Helper()
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr
}
