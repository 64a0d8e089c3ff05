package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"cdr-analytics/internal/models"
)

var auditColumns = []string{
	"id", "execution_id", "message_id", "recipient", "subject", "status",
	"reason", "token", "detail", "attempt", "created_at", "updated_at",
}

// AuditRepository stores one row per delivery attempt in cdr.delivery_audits.
type AuditRepository struct {
	q   Querier
	now func() time.Time
}

func NewAuditRepository(q Querier) *AuditRepository {
	return &AuditRepository{q: q, now: time.Now}
}

func (r *AuditRepository) Record(ctx context.Context, a models.DeliveryAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	sql, args, err := builder().
		Insert(tableAudits).
		Columns(auditColumns...).
		Values(a.ID, a.ExecutionID, a.MessageID, a.Recipient, a.Subject, string(a.Status),
			string(a.Reason), a.Token, a.Detail, a.Attempt, a.CreatedAt, a.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := r.q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert delivery audit: %w", err)
	}
	return nil
}

// Resolve finalises the pending row carrying token. Rows that are no
// longer pending are left alone.
func (r *AuditRepository) Resolve(ctx context.Context, token string, o models.Outcome) error {
	if o.Status == models.DeliveryPending {
		return nil
	}

	sql, args, err := builder().
		Update(tableAudits).
		Set("status", string(o.Status)).
		Set("reason", string(o.Reason)).
		Set("detail", o.Detail).
		Set("updated_at", r.now().UTC()).
		Where(squirrel.Eq{"token": token, "status": string(models.DeliveryPending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit update: %w", err)
	}

	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update delivery audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no pending delivery with token %q", models.ErrNotFound, token)
	}
	return nil
}

// Pending returns the oldest pending rows first.
func (r *AuditRepository) Pending(ctx context.Context, limit int) ([]models.DeliveryAudit, error) {
	b := builder().
		Select(auditColumns...).
		From(tableAudits).
		Where(squirrel.Eq{"status": string(models.DeliveryPending)}).
		OrderBy("created_at ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]models.DeliveryAudit, 0)
	for rows.Next() {
		var (
			a              models.DeliveryAudit
			status, reason string
		)
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.MessageID, &a.Recipient, &a.Subject, &status,
			&reason, &a.Token, &a.Detail, &a.Attempt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery audit: %w", err)
		}
		a.Status = models.DeliveryStatus(status)
		a.Reason = models.FailureReason(reason)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery audits: %w", err)
	}
	return out, nil
}

// Statistics counts the attempts created inside rng.
func (r *AuditRepository) Statistics(ctx context.Context, rng models.DateRange) (models.DeliveryStatistics, error) {
	stats := models.NewDeliveryStatistics()

	sql, args, err := builder().
		Select("status", "reason", "COUNT(*)").
		From(tableAudits).
		Where(squirrel.GtOrEq{"created_at": rng.Start}).
		Where(squirrel.LtOrEq{"created_at": rng.End}).
		GroupBy("status", "reason").
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build statistics query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return stats, fmt.Errorf("query delivery statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, reason string
			n              int64
		)
		if err := rows.Scan(&status, &reason, &n); err != nil {
			return stats, fmt.Errorf("scan delivery statistics: %w", err)
		}

		count := int(n)
		stats.TotalSent += count
		switch models.DeliveryStatus(status) {
		case models.DeliverySucceeded:
			stats.TotalSuccessful += count
		case models.DeliveryPending:
			stats.TotalPending += count
		default:
			stats.TotalFailed += count
			fr := models.FailureReason(reason)
			if fr == models.ReasonNone {
				fr = models.ReasonUnknown
			}
			stats.FailureReasons[fr] += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate delivery statistics: %w", err)
	}
	return stats, nil
}
