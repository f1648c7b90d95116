package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrItemNotFound is returned when an item does not exist.
var ErrItemNotFound = errors.New("item not found")

// Repository defines the interface for catalog data access.
type Repository interface {
	GetItem(ctx context.Context, id uint) (*Item, error)
	ListItems(ctx context.Context, category string) ([]*Item, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new catalog repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetItem(ctx context.Context, id uint) (*Item, error) {
	var item Item
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) ListItems(ctx context.Context, category string) ([]*Item, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var items []*Item
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
