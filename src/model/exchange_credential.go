package model

import "time"

// ExchangeCredential stores a user's exchange API credentials encrypted at
// rest (AES-GCM, see src/security). The worker decrypts them at startup.
type ExchangeCredential struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	APIKeyHash    string    `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash string    `gorm:"column:api_secret;type:text" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for credentials.
func (ExchangeCredential) TableName() string {
	return "exchange_credentials"
}
