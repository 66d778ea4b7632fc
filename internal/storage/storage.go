package storage

import (
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/papertrade/papertrade-api/internal/types"
)

// Database is the storage collaborator: single-record reads and writes
// over users, positions, orders, the order-id sequence and configuration
// overrides. Each call is atomic at the single-record level; multi-record
// consistency is the trading engine's commit ordering.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a GORM connection.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// OrderSequence is the monotonically increasing order-id counter.
type OrderSequence struct {
	ID     uint `gorm:"primarykey"`
	LastID int64
}

// ConfigEntry is a stored configuration override.
type ConfigEntry struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex"`
	Value string
}

// GetUser returns the user record, or (nil, nil) when absent.
func (d *Database) GetUser(userID string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user record.
func (d *Database) CreateUser(user *types.User) error {
	return d.db.Create(user).Error
}

// SaveUser persists an updated user record.
func (d *Database) SaveUser(user *types.User) error {
	return d.db.Save(user).Error
}

// ListUsers returns every registered user.
func (d *Database) ListUsers() ([]types.User, error) {
	var users []types.User
	if err := d.db.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// GetPosition returns the user's position in a stock, or (nil, nil) when
// absent.
func (d *Database) GetPosition(userID, stockCode string) (*types.Position, error) {
	var position types.Position
	err := d.db.Where("user_id = ? AND stock_code = ?", userID, stockCode).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// SavePosition inserts or updates a position record.
func (d *Database) SavePosition(position *types.Position) error {
	return d.db.Save(position).Error
}

// DeletePosition removes the user's position in a stock. Positions whose
// total volume reaches zero are deleted, not retained.
func (d *Database) DeletePosition(userID, stockCode string) error {
	return d.db.Where("user_id = ? AND stock_code = ?", userID, stockCode).
		Delete(&types.Position{}).Error
}

// GetPositions returns every position held by a user.
func (d *Database) GetPositions(userID string) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Where("user_id = ?", userID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOrder returns an order by id, or (nil, nil) when absent.
func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// SaveOrder inserts or updates an order record.
func (d *Database) SaveOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

// GetOrders returns a user's orders, most recent first.
func (d *Database) GetOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// NextOrderID allocates the next order id from the persistent sequence.
func (d *Database) NextOrderID() (string, error) {
	var id int64
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var seq OrderSequence
		if err := tx.First(&seq).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			seq = OrderSequence{}
		}
		seq.LastID++
		id = seq.LastID
		return tx.Save(&seq).Error
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PT%08d", id), nil
}

// GetConfigValue returns a stored configuration override, or def when
// the key is absent.
func (d *Database) GetConfigValue(key, def string) string {
	var entry ConfigEntry
	if err := d.db.Where("key = ?", key).First(&entry).Error; err != nil {
		return def
	}
	return entry.Value
}

// GetConfigFloat returns a stored numeric override, or def when the key
// is absent or unparseable.
func (d *Database) GetConfigFloat(key string, def float64) float64 {
	raw := d.GetConfigValue(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// SetConfigValue upserts a configuration override.
func (d *Database) SetConfigValue(key, value string) error {
	var entry ConfigEntry
	err := d.db.Where("key = ?", key).First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return d.db.Create(&ConfigEntry{Key: key, Value: value}).Error
	}
	entry.Value = value
	return d.db.Save(&entry).Error
}
