package model

import "time"

// TokenRecord is the persisted token triple for one account. The auth
// client is the sole writer; this table only makes restarts cheap.
type TokenRecord struct {
	Username     string `gorm:"primaryKey;size:256"`
	AccessToken  string `gorm:"not null"`
	RefreshToken string
	ExpiresAt    int64 `gorm:"not null"` // epoch seconds
	UpdatedAt    time.Time
}
