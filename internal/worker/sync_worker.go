package worker

import (
	"context"
	"errors"
	"fmt"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/sheets"
)

// MovementReader is the storage view the sync worker needs.
type MovementReader interface {
	GetMovement(ctx context.Context, id int64) (core.Movement, error)
	ListMovements(ctx context.Context, from, to core.Date) ([]core.Movement, error)
}

// SyncWorker mirrors ledger movements from SQLite to Google Sheets
type SyncWorker struct {
	storage MovementReader
	mirror  sheets.MovementMirror
	logger  *applog.Logger
}

func NewSyncWorker(storage MovementReader, mirror sheets.MovementMirror) *SyncWorker {
	return &SyncWorker{
		storage: storage,
		mirror:  mirror,
		logger:  applog.Default(applog.ComponentWorker),
	}
}

// WithLogger replaces the worker logger.
func (w *SyncWorker) WithLogger(logger *applog.Logger) *SyncWorker {
	if logger != nil {
		w.logger = logger.WithComponent(applog.ComponentWorker)
	}
	return w
}

// HandleSyncMessage processes a single movement sync message from AMQP.
// The stored movement is always mirrored in its current state, so an
// older message for a movement that has moved on is still safe.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.MovementSyncMessage) error {
	w.logger.DebugContext(ctx, "Processing sync message",
		applog.FieldMovementID, msg.MovementID,
		applog.FieldVersion, msg.Version)

	movement, err := w.storage.GetMovement(ctx, msg.MovementID)
	if errors.Is(err, core.ErrMovementNotFound) {
		// Nothing to mirror; acknowledging drops the message.
		w.logger.WarnContext(ctx, "Movement not found, dropping sync message",
			applog.FieldMovementID, msg.MovementID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get movement from storage: %w", err)
	}

	if movement.Version < msg.Version {
		w.logger.WarnContext(ctx, "Stored movement is older than the message",
			applog.FieldMovementID, movement.ID,
			"stored_version", movement.Version,
			"message_version", msg.Version)
	}

	if _, err := w.mirror.MirrorMovement(ctx, movement); err != nil {
		return fmt.Errorf("mirror movement to sheets: %w", err)
	}
	return nil
}

// StartupSyncCheck re-mirrors every movement dated between from and to.
// It recovers from missed AMQP messages or worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context, from, to core.Date) error {
	movements, err := w.storage.ListMovements(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list movements for startup check: %w", err)
	}

	if len(movements) == 0 {
		w.logger.InfoContext(ctx, "No movements to check on startup",
			"from", from.String(), "to", to.String())
		return nil
	}

	var appended, errorCount int
	for _, m := range movements {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.mirror.MirrorMovement(ctx, m)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror movement during startup",
				applog.FieldMovementID, m.ID,
				applog.FieldError, err)
			errorCount++
			continue
		}
		appended += n
	}

	w.logger.InfoContext(ctx, "Startup sync completed",
		"movements", len(movements),
		"rows_appended", appended,
		"errors", errorCount)

	return nil
}
