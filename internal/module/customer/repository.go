package customer

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCustomerNotFound is returned when a customer does not exist.
var ErrCustomerNotFound = errors.New("customer not found")

// Repository defines the interface for customer data access.
type Repository interface {
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	GetOrCreateByEmail(ctx context.Context, name, email string) (*Customer, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new customer repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var c Customer
	err := r.db.WithContext(ctx).First(&c, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) GetOrCreateByEmail(ctx context.Context, name, email string) (*Customer, error) {
	c := &Customer{Name: name, Email: email}
	// Concurrent settlements for the same user must converge on one row.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}
	if c.ID != 0 {
		return c, nil
	}
	return r.GetCustomerByEmail(ctx, email)
}
