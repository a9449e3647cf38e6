// Package store defines the message repository contract and its backends.
// The backend is selected once at startup; handlers receive the Store handle
// by injection and never probe for capabilities per call.
package store

import (
	"context"
	"fmt"
	"time"

	"wabridge/internal/constants"
	"wabridge/internal/database"
	"wabridge/internal/models"
)

// MessageRepository owns every Message record and the pending and processed
// indices. Membership in the two indices always matches Message.Status.
type MessageRepository interface {
	// PutMessage upserts by id and reports whether the id was new.
	PutMessage(ctx context.Context, msg *models.Message) (bool, error)
	// ListMessages returns messages with status, newest timestamp first; ties
	// are broken by index insertion order, newest first.
	ListMessages(ctx context.Context, status models.Status, limit int) ([]*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, bool, error)
	// MarkProcessed moves a pending message to processed and refreshes its
	// timestamp. Unknown and already processed ids return false.
	MarkProcessed(ctx context.Context, id string) (bool, error)
	PruneProcessed(ctx context.Context, before time.Time) (int, error)
	Counts(ctx context.Context) (map[models.Status]int, error)
}

// StateStore holds the process-wide control state.
type StateStore interface {
	GetState(ctx context.Context) (models.State, error)
	// SetState merges patch into the current state and returns the result.
	SetState(ctx context.Context, patch models.StatePatch) (models.State, error)
}

// SettingsStore holds remotely managed credential overrides.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the full backend handle.
type Store interface {
	MessageRepository
	StateStore
	SettingsStore
	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*database.Database)(nil)
)

// New opens the backend named in cfg.
func New(ctx context.Context, cfg models.StoreConfig) (Store, error) {
	secret := ""
	if cfg.EncryptAtRest {
		secret = cfg.EncryptionSecret
	}

	switch cfg.Backend {
	case constants.StoreBackendMemory, "":
		return NewMemoryStore(), nil
	case constants.StoreBackendSQLite:
		return database.New(cfg.SQLitePath, database.Options{EncryptionSecret: secret})
	case constants.StoreBackendRedis:
		return NewRedisStore(ctx, RedisOptions{URL: cfg.RedisURL, KeyPrefix: cfg.KeyPrefix})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		return constants.MaxListLimit
	}
	return limit
}
