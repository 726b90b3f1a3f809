package model

import "time"

// User identifies an account owner. PasswordHash is a bcrypt hash; APIToken
// authenticates HTTP requests via the bearer middleware.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;column:password_hash" json:"-"`
	APIToken     string    `gorm:"size:255;uniqueIndex;column:api_token" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for users.
func (User) TableName() string {
	return "users"
}
