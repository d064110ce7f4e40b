package backend

import (
	"context"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

// MovementStore is the read side of the ledger.
type MovementStore interface {
	GetMovement(ctx context.Context, id int64) (core.Movement, error)
	GetMovementByDate(ctx context.Context, date core.Date) (core.Movement, error)
	ListMovements(ctx context.Context, from, to core.Date) ([]core.Movement, error)
}

// Backend bundles the ports one storage choice provides.
type Backend struct {
	Rules     services.RuleStore
	Ledger    services.Ledger
	Movements MovementStore

	// Ping reports whether the storage is reachable.
	Ping func(ctx context.Context) error
}

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// BackendResult contains the backend and its cleanup function.
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation.
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Memory specific: optional JSON rule file used as seed.
	RulesFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
