package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Database) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	store := storage.NewDatabase(db)
	return NewService("test-secret", store, 1000000), store
}

func TestRegisterSeedsStartingBalance(t *testing.T) {
	service, store := newTestService(t)

	user, err := service.Register("alice", "Alice")
	require.NoError(t, err)
	assert.InDelta(t, 1000000.0, user.Balance, 1e-9)
	assert.InDelta(t, 1000000.0, user.TotalAssets, 1e-9)
	assert.Equal(t, "Alice", user.Nickname)

	stored, err := store.GetUser("alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 1000000.0, stored.Balance, 1e-9)
}

func TestRegisterDuplicate(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register("alice", "")
	require.NoError(t, err)

	_, err = service.Register("alice", "")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterDefaultsNickname(t *testing.T) {
	service, _ := newTestService(t)

	user, err := service.Register("bob", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Nickname)
}

func TestGenerateTokenRequiresRegistration(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.GenerateToken("nobody")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestTokenRoundTrip(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Register("alice", "")
	require.NoError(t, err)

	token, err := service.GenerateToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	service, store := newTestService(t)

	_, err := service.Register("alice", "")
	require.NoError(t, err)
	token, err := service.GenerateToken("alice")
	require.NoError(t, err)

	other := NewService("other-secret", store, 1000000)
	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err)
}
