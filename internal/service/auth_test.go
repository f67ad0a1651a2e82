package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/repository"
	"collaborative-sketchpad/internal/repository/mocks"
	"collaborative-sketchpad/internal/service"
)

const testSecret = "very-secret-key"

func parseClaims(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil })
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

// --- Register ---

func TestAuthService_Register_Success(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, testSecret, 1)
	require.NoError(t, err)

	ctx := context.Background()
	username, password, email := "newbie", "StrongPass123", "newbie@example.com"

	mockUserRepo.On("FindByUsername", ctx, username).Return(nil, repository.ErrUserNotFound).Once()
	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(user *domain.User) bool {
		return user.Username == username && user.Email == email &&
			bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
	})).
		Run(func(args mock.Arguments) {
			userArg := args.Get(1).(*domain.User)
			userArg.ID = 5
			userArg.CreatedAt = time.Now()
		}).
		Return(nil).
		Once()

	registered, err := authService.Register(ctx, username, password, email)
	require.NoError(t, err)
	assert.Equal(t, uint(5), registered.ID)
	assert.Empty(t, registered.Password, "返回的用户不应包含密码哈希")
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_UsernameTaken(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "existing").Return(&domain.User{ID: 10, Username: "existing"}, nil).Once()

	_, err := authService.Register(ctx, "existing", "password", "e@test.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRegistrationFailed))
	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAuthService_Register_SaveFails_DuplicateEntry(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "another").Return(nil, repository.ErrUserNotFound).Once()
	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).Return(repository.ErrDuplicateEntry).Once()

	_, err := authService.Register(ctx, "another", "password", "dup@test.com")
	assert.ErrorIs(t, err, service.ErrRegistrationFailed)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_MissingFields(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 1)

	_, err := authService.Register(context.Background(), "  ", "pw", "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	mockUserRepo.AssertNotCalled(t, "FindByUsername", mock.Anything, mock.Anything)
}

// --- Login ---

func TestAuthService_Login_Success(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)

	mockUserRepo.On("FindByUsername", ctx, "testuser").
		Return(&domain.User{ID: 42, Username: "testuser", Password: string(hashed)}, nil).Once()

	token, err := authService.Login(ctx, "testuser", "password123")
	require.NoError(t, err)
	assert.Equal(t, "42", parseClaims(t, token)[service.UserClaim])
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 24)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "nonexistent").Return(nil, repository.ErrUserNotFound).Once()

	token, err := authService.Login(ctx, "nonexistent", "password")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	assert.Empty(t, token)
}

func TestAuthService_Login_IncorrectPassword(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, testSecret, 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)

	mockUserRepo.On("FindByUsername", ctx, "testuser").
		Return(&domain.User{ID: 1, Username: "testuser", Password: string(hashed)}, nil).Once()

	token, err := authService.Login(ctx, "testuser", "wrongpassword")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	assert.Empty(t, token)
}

func TestAuthService_GuestToken(t *testing.T) {
	authService, _ := service.NewAuthService(new(mocks.UserRepository), testSecret, 24)

	token, identity, err := authService.GuestToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(identity, domain.GuestPrefix))
	assert.True(t, domain.IsGuestIdentifier(identity))
	assert.Equal(t, identity, parseClaims(t, token)[service.UserClaim])

	_, other, err := authService.GuestToken()
	require.NoError(t, err)
	assert.NotEqual(t, identity, other)
}

func TestNewAuthService_EmptySecret(t *testing.T) {
	_, err := service.NewAuthService(new(mocks.UserRepository), "", 1)
	assert.Error(t, err)
}
