package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/repository"
)

const testJWTSecret = "test-secret"

func newAuthFixture(t *testing.T, denylist TokenDenylist) (*authService, *gorm.DB) {
	t.Helper()
	db := setupServiceTestDB(t)
	svc := NewAuthService(
		repository.NewUserRepository(db),
		repository.NewProfileRepository(db),
		denylist,
		validator.New(),
		AuthConfig{Secret: testJWTSecret, TTL: time.Hour},
		zerolog.Nop(),
	).(*authService)
	svc.hashCost = bcrypt.MinCost
	return svc, db
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	svc, db := newAuthFixture(t, nil)
	ctx := context.Background()

	registered, err := svc.Register(ctx, dto.RegisterRequest{Name: " Alice ", Email: "Alice@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", registered.User.Email)
	require.Equal(t, "Alice", registered.User.Name)
	require.NotEmpty(t, registered.Token)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(registered.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, claims.Subject)

	var profiles int64
	require.NoError(t, db.Table("profiles").Where("user_id = ?", registered.User.ID).Count(&profiles).Error)
	require.EqualValues(t, 1, profiles)

	_, err = svc.Register(ctx, dto.RegisterRequest{Name: "Other", Email: "alice@example.com", Password: "secret2"})
	require.ErrorIs(t, err, ErrEmailTaken)

	loggedIn, err := svc.Login(ctx, dto.LoginRequest{Email: "ALICE@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, loggedIn.User.ID)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthServiceUpdateAccount(t *testing.T) {
	svc, _ := newAuthFixture(t, nil)
	ctx := context.Background()

	alice, err := svc.Register(ctx, dto.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, dto.RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	taken := "bob@example.com"
	_, err = svc.UpdateAccount(ctx, alice.User.ID, dto.UpdateAccountRequest{Email: &taken})
	require.ErrorIs(t, err, ErrEmailTaken)

	password, confirm := "newsecret", "different"
	_, err = svc.UpdateAccount(ctx, alice.User.ID, dto.UpdateAccountRequest{Password: &password, PasswordConfirm: &confirm})
	require.ErrorIs(t, err, ErrPasswordMismatch)

	name := "Alice Cooper"
	updated, err := svc.UpdateAccount(ctx, alice.User.ID, dto.UpdateAccountRequest{Name: &name, Password: &password, PasswordConfirm: &password})
	require.NoError(t, err)
	require.Equal(t, "Alice Cooper", updated.Name)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "alice@example.com", Password: "newsecret"})
	require.NoError(t, err)

	results, err := svc.Search(ctx, alice.User.ID, dto.UserSearchQuery{Query: "BOB"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Bob", results[0].Name)
}

func TestAuthServiceLogoutRevokesToken(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	denylist := NewRedisTokenDenylist(redis.NewClient(&redis.Options{Addr: mini.Addr()}))
	svc, _ := newAuthFixture(t, denylist)
	ctx := context.Background()

	registered, err := svc.Register(ctx, dto.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	revoked, err := denylist.IsRevoked(ctx, registered.Token)
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, svc.Logout(ctx, registered.Token))

	revoked, err = denylist.IsRevoked(ctx, registered.Token)
	require.NoError(t, err)
	require.True(t, revoked)
	require.Greater(t, mini.TTL(denylistKey(registered.Token)), time.Duration(0))

	require.Error(t, svc.Logout(ctx, "not-a-token"))
}
