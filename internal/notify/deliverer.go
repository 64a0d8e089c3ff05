package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cdr-analytics/internal/metrics"
	"cdr-analytics/internal/models"
)

const defaultSendTimeout = 30 * time.Second

// Attempt tags the audit rows written for a batch.
type Attempt struct {
	ExecutionID *uuid.UUID
	Number      int
}

// Deliverer sends messages one attempt at a time. It never retries on its
// own; callers decide what to resubmit from the returned outcomes.
type Deliverer struct {
	channel     Channel
	recorder    Recorder
	sendTimeout time.Duration
	gap         time.Duration
	wait        func(context.Context, time.Duration)
}

type Option func(*Deliverer)

func WithRecorder(r Recorder) Option {
	return func(d *Deliverer) { d.recorder = r }
}

// WithSendTimeout bounds every channel send.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Deliverer) { d.sendTimeout = t }
}

// WithSendGap waits between two consecutive sends of a batch.
func WithSendGap(gap time.Duration) Option {
	return func(d *Deliverer) { d.gap = gap }
}

func NewDeliverer(ch Channel, opts ...Option) *Deliverer {
	d := &Deliverer{
		channel:     ch,
		sendTimeout: defaultSendTimeout,
		wait:        sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver makes one attempt to send msg. Once called, cancelling ctx does
// not abort the send and the outcome is always recorded.
func (d *Deliverer) Deliver(ctx context.Context, msg models.EmailMessage) models.Outcome {
	return d.deliver(ctx, msg, Attempt{Number: 1})
}

// DeliverBatch sends every message and returns statistics local to this
// call. TotalSent always equals len(msgs).
func (d *Deliverer) DeliverBatch(ctx context.Context, msgs []models.EmailMessage) models.DeliveryStatistics {
	_, stats := d.DeliverEach(ctx, msgs, Attempt{Number: 1})
	return stats
}

// DeliverEach is DeliverBatch that also returns the outcome of every
// message, index-aligned with msgs.
func (d *Deliverer) DeliverEach(ctx context.Context, msgs []models.EmailMessage, attempt Attempt) ([]models.Outcome, models.DeliveryStatistics) {
	stats := models.NewDeliveryStatistics()
	outcomes := make([]models.Outcome, 0, len(msgs))

	for i, msg := range msgs {
		if i > 0 && d.gap > 0 {
			d.wait(ctx, d.gap)
		}
		o := d.deliver(ctx, msg, attempt)
		stats.Record(o)
		outcomes = append(outcomes, o)
	}

	slog.Info("delivered batch",
		"messages", len(msgs),
		"succeeded", stats.TotalSuccessful,
		"failed", stats.TotalFailed,
		"pending", stats.TotalPending,
		"attempt", attempt.Number)
	return outcomes, stats
}

// sleepContext waits for gap or until ctx is done. Remaining messages
// are still sent after cancellation, just without the gap.
func sleepContext(ctx context.Context, gap time.Duration) {
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Deliverer) deliver(ctx context.Context, msg models.EmailMessage, attempt Attempt) models.Outcome {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if attempt.Number < 1 {
		attempt.Number = 1
	}

	sendCtx := context.WithoutCancel(ctx)

	var (
		o       models.Outcome
		elapsed time.Duration
	)
	if len(msg.Recipients()) == 0 {
		o = models.Failed(models.ReasonInvalidRecipient, "message has no recipients")
	} else {
		timeout := d.sendTimeout
		if timeout <= 0 {
			timeout = defaultSendTimeout
		}
		attemptCtx, cancel := context.WithTimeout(sendCtx, timeout)
		start := time.Now()
		o = normalize(d.channel.Send(attemptCtx, msg), msg)
		elapsed = time.Since(start)
		cancel()
	}

	metrics.ObserveDelivery(string(o.Status), string(o.Reason), elapsed)
	d.record(sendCtx, msg, o, attempt)

	if o.Status == models.DeliveryFailed {
		slog.Warn("delivery failed",
			"message_id", msg.ID, "recipients", strings.Join(msg.Recipients(), ","),
			"reason", o.Reason, "detail", o.Detail)
	} else {
		slog.Info("delivery attempted",
			"message_id", msg.ID, "status", o.Status, "elapsed", elapsed)
	}
	return o
}

// normalize makes sure every outcome is one of the three states and that
// pending outcomes carry a token.
func normalize(o models.Outcome, msg models.EmailMessage) models.Outcome {
	switch o.Status {
	case models.DeliverySucceeded:
		return models.Outcome{Status: models.DeliverySucceeded, Detail: o.Detail}
	case models.DeliveryPending:
		if o.Token == "" {
			o.Token = msg.ID.String()
		}
		o.Reason = models.ReasonNone
		return o
	case models.DeliveryFailed:
		return models.Failed(o.Reason, o.Detail)
	}
	return models.Failed(models.ReasonUnknown, "channel returned no status")
}

func (d *Deliverer) record(ctx context.Context, msg models.EmailMessage, o models.Outcome, attempt Attempt) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.Record(ctx, models.DeliveryAudit{
		ID:          uuid.New(),
		ExecutionID: attempt.ExecutionID,
		MessageID:   msg.ID,
		Recipient:   strings.Join(msg.Recipients(), ","),
		Subject:     msg.Subject,
		Status:      o.Status,
		Reason:      o.Reason,
		Token:       o.Token,
		Detail:      o.Detail,
		Attempt:     attempt.Number,
	})
	if err != nil {
		slog.Error("failed to record delivery", "message_id", msg.ID, "error", err)
	}
}

// Reconcile asks the channel for the final outcome of previously pending
// messages. Nothing is re-sent. Tokens the channel cannot resolve yet stay
// pending. TotalSent equals len(tokens).
func (d *Deliverer) Reconcile(ctx context.Context, tokens []string) models.DeliveryStatistics {
	_, stats := d.ReconcileEach(ctx, tokens)
	return stats
}

// ReconcileEach is Reconcile that also returns the outcome per token.
func (d *Deliverer) ReconcileEach(ctx context.Context, tokens []string) ([]models.Outcome, models.DeliveryStatistics) {
	stats := models.NewDeliveryStatistics()
	outcomes := make([]models.Outcome, 0, len(tokens))
	resolver, _ := d.channel.(PendingResolver)

	for _, token := range tokens {
		o := models.Pending(token)
		stats.Record(o)

		if resolver != nil && ctx.Err() == nil {
			resolved, err := resolver.Resolve(ctx, token)
			switch {
			case err != nil:
				slog.Warn("pending delivery not resolved", "token", token, "error", err)
			case resolved.Status == models.DeliverySucceeded || resolved.Status == models.DeliveryFailed:
				o = normalize(resolved, models.EmailMessage{})
				o.Token = token
				stats.Resolve(o)
				metrics.ObserveDelivery(string(o.Status), string(o.Reason), 0)
				if d.recorder != nil {
					if err := d.recorder.Resolve(context.WithoutCancel(ctx), token, o); err != nil {
						slog.Error("failed to update delivery audit", "token", token, "error", err)
					}
				}
			}
		}
		outcomes = append(outcomes, o)
	}

	slog.Info("reconciled pending deliveries",
		"tokens", len(tokens),
		"succeeded", stats.TotalSuccessful,
		"failed", stats.TotalFailed,
		"pending", stats.TotalPending)
	return outcomes, stats
}
