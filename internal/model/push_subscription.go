package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey;size:512"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Machines []SubscriptionMachine `gorm:"foreignKey:Endpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// SubscriptionMachine links a subscription to an upstream machine id.
// Machine metadata itself is never persisted, so this is a plain id link
// rather than a foreign key into a machines table.
type SubscriptionMachine struct {
	Endpoint  string `gorm:"primaryKey;size:512"`
	MachineID string `gorm:"primaryKey;size:64"`
}
