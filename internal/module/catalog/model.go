package catalog

import "time"

// Item represents a catalog entry. Catalog management (create, edit,
// publish) belongs to the merchandising service; this module serves
// lookups for checkout and fulfillment.
type Item struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Category    string    `json:"category" gorm:"index"`
	Price       int64     `json:"price"` // minor currency units
	Currency    string    `json:"currency" gorm:"default:USD"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Item) TableName() string {
	return "items"
}
