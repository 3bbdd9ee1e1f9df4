package processedRepo

import (
	"context"
	"errors"
)

// ErrAlreadyProcessed signals that an inbound message id was seen before and
// must be discarded without side effects.
var ErrAlreadyProcessed = errors.New("message already processed")

// ProcessedMessageRepository is the idempotency guard over inbound messages.
type ProcessedMessageRepository interface {
	// MarkProcessed records (tenantID, provider, messageID) before any side
	// effect. A uniqueness violation maps to ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, tenantID, provider, messageID string) error
}
