package storage_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/papertrade-api/internal/database"
	"github.com/papertrade/papertrade-api/internal/storage"
	"github.com/papertrade/papertrade-api/internal/types"
)

func newTestDatabase(t *testing.T) *storage.Database {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	return storage.NewDatabase(db)
}

func TestGetUserAbsentIsNilNil(t *testing.T) {
	d := newTestDatabase(t)

	user, err := d.GetUser("nobody")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRoundTrip(t *testing.T) {
	d := newTestDatabase(t)

	require.NoError(t, d.CreateUser(&types.User{UserID: "u1", Balance: 1000}))

	user, err := d.GetUser("u1")
	require.NoError(t, err)
	require.NotNil(t, user)

	user.Balance = 500
	require.NoError(t, d.SaveUser(user))

	again, err := d.GetUser("u1")
	require.NoError(t, err)
	assert.InDelta(t, 500.0, again.Balance, 1e-9)
}

func TestNextOrderIDIsSequential(t *testing.T) {
	d := newTestDatabase(t)

	first, err := d.NextOrderID()
	require.NoError(t, err)
	assert.Equal(t, "PT00000001", first)

	second, err := d.NextOrderID()
	require.NoError(t, err)
	assert.Equal(t, "PT00000002", second)
}

func TestDeletePosition(t *testing.T) {
	d := newTestDatabase(t)

	require.NoError(t, d.SavePosition(&types.Position{
		UserID: "u1", StockCode: "600000", TotalVolume: 100,
	}))

	require.NoError(t, d.DeletePosition("u1", "600000"))

	position, err := d.GetPosition("u1", "600000")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestGetOrdersMostRecentFirst(t *testing.T) {
	d := newTestDatabase(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, d.SaveOrder(&types.Order{
			OrderID: fmt.Sprintf("PT%08d", i),
			UserID:  "u1",
			Status:  types.OrderPending,
		}))
	}

	orders, err := d.GetOrders("u1")
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestConfigOverrides(t *testing.T) {
	d := newTestDatabase(t)

	assert.Equal(t, 1.5, d.GetConfigFloat("hkd_to_cny_rate", 1.5))

	require.NoError(t, d.SetConfigValue("hkd_to_cny_rate", "0.95"))
	assert.Equal(t, 0.95, d.GetConfigFloat("hkd_to_cny_rate", 1.5))

	// Overwrite updates in place.
	require.NoError(t, d.SetConfigValue("hkd_to_cny_rate", "0.90"))
	assert.Equal(t, 0.90, d.GetConfigFloat("hkd_to_cny_rate", 1.5))

	// Unparseable values fall back to the default.
	require.NoError(t, d.SetConfigValue("usd_to_cny_rate", "not-a-number"))
	assert.Equal(t, 7.2, d.GetConfigFloat("usd_to_cny_rate", 7.2))
}
