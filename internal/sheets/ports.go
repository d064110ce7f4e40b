package sheets

import (
	"context"

	"bilancio/internal/core"
)

// Ports for outbound adapters.
type (
	// MovementMirror copies a ledger movement to an external spreadsheet.
	// Mirroring the same movement twice appends nothing new.
	MovementMirror interface {
		MirrorMovement(ctx context.Context, m core.Movement) (appended int, err error)
	}
)
