package backend

import (
	"context"
	"fmt"

	"bilancio/internal/amqp"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"
	"bilancio/internal/storage/memory"
)

// DefaultFactory implements Factory.
type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Default(applog.ComponentStorage)
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentStorage)}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	repo.WithLogger(f.logger)

	// AMQP is optional; without it movements are stored but not mirrored.
	var publisher services.MovementPublisher
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without sync", applog.FieldError, err)
		} else {
			publisher = client.WithLogger(f.logger)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(repo, publisher).WithLogger(f.logger)

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", publisher != nil)

	return &BackendResult{
		Backend: Backend{
			Rules:     repo,
			Ledger:    ledger,
			Movements: repo,
			Ping:      repo.Ping,
		},
		Cleanup: ledger.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	var (
		store *memory.Store
		err   error
	)
	if config.RulesFile != "" {
		store, err = memory.NewFromFile(config.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to seed memory backend: %w", err)
		}
	} else {
		store = memory.New()
	}

	f.logger.Info("Initialized memory backend", "rules_file", config.RulesFile)

	return &BackendResult{
		Backend: Backend{
			Rules:     store,
			Ledger:    store,
			Movements: store,
			Ping:      store.Ping,
		},
		Cleanup: store.Close,
	}, nil
}
