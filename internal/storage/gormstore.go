// Package storage persists Orders through gorm, supporting either a
// postgres DSN or a local sqlite file, picking its driver off the DSN
// prefix.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/orderexec/engine/internal/models"
)

// ErrOrderNotFound is returned by Get when no row matches the orderId.
var ErrOrderNotFound = errors.New("storage: order not found")

// GormStore implements models.OrderStore.
type GormStore struct {
	db *gorm.DB
}

// Open connects to databaseURL as a postgres DSN if it starts with
// postgres:// or postgresql://; any other value, including empty, falls
// back to a sqlite file at databasePath. It then runs AutoMigrate for the
// orders table.
func Open(databaseURL, databasePath string) (*GormStore, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("order store connected (postgres)")
	} else {
		dir := filepath.Dir(databasePath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(databasePath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", databasePath).Msg("order store initialized (sqlite)")
	}

	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// Create inserts a new order row. The caller is expected to have already
// assigned OrderID, CreatedAt and UpdatedAt.
func (s *GormStore) Create(ctx context.Context, o *models.Order) error {
	return s.db.WithContext(ctx).Create(o).Error
}

// Get loads a single order by id.
func (s *GormStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).First(&o, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns a page of orders newest-first, along with the total row
// count for pagination.
func (s *GormStore) List(ctx context.Context, limit, offset int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	if err := s.db.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatus persists the full order row, used by the lifecycle after
// every stage transition.
func (s *GormStore) UpdateStatus(ctx context.Context, o *models.Order) error {
	return s.db.WithContext(ctx).Save(o).Error
}
