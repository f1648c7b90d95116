package customer

import "time"

// Customer represents a client profile owned by the staff workflow.
// A customer is created lazily the first time a user's payment needs a
// production task, keyed by email.
type Customer struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Customer) TableName() string {
	return "customers"
}
