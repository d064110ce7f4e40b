package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

type (
	// MovementMerger persists a movement request into the day's movement and
	// reports how many items were actually added.
	MovementMerger interface {
		MergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, int, error)
	}

	// MovementPublisher announces a new movement version to the sync worker.
	MovementPublisher interface {
		PublishMovementSync(ctx context.Context, movementID, version int64) error
	}
)

// LedgerService orchestrates movement writes across storage and AMQP.
// It satisfies the Ledger port of the recurring processor.
type LedgerService struct {
	storage   MovementMerger
	publisher MovementPublisher
	logger    *applog.Logger
}

func NewLedgerService(storage MovementMerger, publisher MovementPublisher) *LedgerService {
	return &LedgerService{
		storage:   storage,
		publisher: publisher,
		logger:    applog.Default(applog.ComponentLedger),
	}
}

// WithLogger replaces the service logger.
func (s *LedgerService) WithLogger(logger *applog.Logger) *LedgerService {
	if logger != nil {
		s.logger = logger.WithComponent(applog.ComponentLedger)
	}
	return s
}

// CreateOrMergeMovement saves the request locally and publishes a sync
// message when the movement changed.
func (s *LedgerService) CreateOrMergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, error) {
	if s.storage == nil {
		return core.Movement{}, ErrProcessorNotInitialized
	}
	if err := req.Validate(); err != nil {
		return core.Movement{}, fmt.Errorf("invalid movement request: %w", err)
	}

	// Save to storage first (fast, reliable)
	movement, added, err := s.storage.MergeMovement(ctx, req)
	if err != nil {
		return core.Movement{}, fmt.Errorf("merge movement: %w", err)
	}

	if added == 0 {
		s.logger.DebugContext(ctx, "Movement unchanged, all items already recorded",
			applog.FieldMovementID, movement.ID,
			applog.FieldMovementDate, movement.Date.String())
		return movement, nil
	}

	if err := s.publishSyncMessage(ctx, movement); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish movement sync message",
			applog.FieldMovementID, movement.ID,
			applog.FieldVersion, movement.Version,
			applog.FieldError, err)
		// Don't fail the write - the movement is saved locally
	}

	return movement, nil
}

func (s *LedgerService) publishSyncMessage(ctx context.Context, movement core.Movement) error {
	if s.publisher == nil {
		s.logger.WarnContext(ctx, "AMQP client not available, skipping sync message",
			applog.FieldMovementID, movement.ID)
		return nil
	}
	return s.publisher.PublishMovementSync(ctx, movement.ID, movement.Version)
}

// Close closes storage and publisher when they hold resources.
func (s *LedgerService) Close() error {
	var errs []error

	if c, ok := s.storage.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}
