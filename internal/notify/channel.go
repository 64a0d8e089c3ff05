// Package notify delivers report messages through a channel and accounts
// for every outcome.
package notify

import (
	"context"

	"cdr-analytics/internal/models"
)

// Channel sends one message and reports its outcome. Implementations must
// be safe for concurrent use.
type Channel interface {
	Send(ctx context.Context, msg models.EmailMessage) models.Outcome
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg models.EmailMessage) models.Outcome

func (f ChannelFunc) Send(ctx context.Context, msg models.EmailMessage) models.Outcome {
	return f(ctx, msg)
}

// PendingResolver is implemented by channels that accept messages
// asynchronously. Resolve looks up the current outcome of a pending
// token without sending anything.
type PendingResolver interface {
	Resolve(ctx context.Context, token string) (models.Outcome, error)
}

// Recorder persists delivery attempts.
type Recorder interface {
	Record(ctx context.Context, a models.DeliveryAudit) error
	Resolve(ctx context.Context, token string, o models.Outcome) error
}
