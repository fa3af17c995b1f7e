package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"omo-laundry-agent/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	SaveTokens(ctx context.Context, username, accessToken, refreshToken string, expiresAt int64) error
	LoadTokens(ctx context.Context, username string) (*model.TokenRecord, error)
	ReplaceSubscription(ctx context.Context, sub model.PushSubscription, machineIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, []string, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForMachine(ctx context.Context, machineID string) ([]model.PushSubscription, error)
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for wiring and tests.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// SaveTokens upserts the token triple for an account.
func (s *gormStore) SaveTokens(ctx context.Context, username, accessToken, refreshToken string, expiresAt int64) error {
	record := model.TokenRecord{
		Username:     username,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save tokens for %s: %w", username, err)
	}
	return nil
}

// LoadTokens returns the persisted token triple, or nil when the account
// has none yet.
func (s *gormStore) LoadTokens(ctx context.Context, username string) (*model.TokenRecord, error) {
	var record model.TokenRecord
	err := s.db.WithContext(ctx).First(&record, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens for %s: %w", username, err)
	}
	return &record, nil
}

// ReplaceSubscription creates or updates a subscription and replaces its
// machine links transactionally.
func (s *gormStore) ReplaceSubscription(ctx context.Context, sub model.PushSubscription, machineIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&sub).Error; err != nil {
			return err
		}

		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&model.SubscriptionMachine{}).Error; err != nil {
			return err
		}

		if len(machineIDs) == 0 {
			return nil
		}
		links := make([]model.SubscriptionMachine, 0, len(machineIDs))
		for _, id := range machineIDs {
			links = append(links, model.SubscriptionMachine{Endpoint: sub.Endpoint, MachineID: id})
		}
		return tx.Create(&links).Error
	})
}

// GetSubscription returns a subscription and its linked machine ids.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, []string, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Machines").First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	machineIDs := make([]string, len(sub.Machines))
	for i, link := range sub.Machines {
		machineIDs[i] = link.MachineID
	}
	return &sub, machineIDs, nil
}

// DeleteSubscription removes a subscription and its machine links.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", endpoint).Delete(&model.SubscriptionMachine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}

// SubscriptionsForMachine returns every subscription linked to a machine.
func (s *gormStore) SubscriptionsForMachine(ctx context.Context, machineID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_machines sm ON sm.endpoint = push_subscriptions.endpoint").
		Where("sm.machine_id = ?", machineID).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for machine %s: %w", machineID, err)
	}
	return subs, nil
}
