package storage

import (
	"context"

	"xrayclient/internal/storage/models"
)

// Setting keys.
const (
	SettingCurrentProfile = "current_profile"
	SettingLatencyTimeout = "latency_test_timeout"
	SettingLatencyWorkers = "latency_test_workers"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Profile operations
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	GetProfileByName(ctx context.Context, name string) (*models.Profile, error)
	GetAllProfiles(ctx context.Context) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	DeleteProfile(ctx context.Context, id int64) error
	TouchProfile(ctx context.Context, id int64) error

	// Latency operations
	RecordLatency(ctx context.Context, latency *models.LatencyTest) error
	GetLatestLatency(ctx context.Context, profileID int64) (*models.LatencyTest, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
