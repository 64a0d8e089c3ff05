package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cdr-analytics/internal/models"
)

var executionColumns = []string{
	"id", "kind", "trigger", "period_start", "period_end", "status",
	"started_at", "completed_at", "generation_ms", "delivery_ms", "records_processed",
	"recipients", "successful", "failed", "pending", "file_name", "error", "created_at",
}

// ExecutionRepository is the report execution log.
type ExecutionRepository struct {
	q Querier
}

func NewExecutionRepository(q Querier) *ExecutionRepository {
	return &ExecutionRepository{q: q}
}

func (r *ExecutionRepository) Create(ctx context.Context, e models.ReportExecution) error {
	sql, args, err := builder().
		Insert(tableExecutions).
		Columns(executionColumns...).
		Values(e.ID, string(e.Kind), string(e.Trigger), e.PeriodStart, e.PeriodEnd, string(e.Status),
			e.StartedAt, e.CompletedAt, e.GenerationMs, e.DeliveryMs, e.RecordsProcessed,
			e.Recipients, e.Successful, e.Failed, e.Pending, e.FileName, e.Error, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build execution insert: %w", err)
	}

	if _, err := r.q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert report execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, e models.ReportExecution) error {
	sql, args, err := builder().
		Update(tableExecutions).
		SetMap(map[string]any{
			"status":            string(e.Status),
			"started_at":        e.StartedAt,
			"completed_at":      e.CompletedAt,
			"generation_ms":     e.GenerationMs,
			"delivery_ms":       e.DeliveryMs,
			"records_processed": e.RecordsProcessed,
			"recipients":        e.Recipients,
			"successful":        e.Successful,
			"failed":            e.Failed,
			"pending":           e.Pending,
			"file_name":         e.FileName,
			"error":             e.Error,
		}).
		Where(squirrel.Eq{"id": e.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build execution update: %w", err)
	}

	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update report execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: report execution %s", models.ErrNotFound, e.ID)
	}
	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id uuid.UUID) (models.ReportExecution, error) {
	sql, args, err := builder().
		Select(executionColumns...).
		From(tableExecutions).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.ReportExecution{}, fmt.Errorf("build execution query: %w", err)
	}

	e, err := scanExecution(r.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReportExecution{}, fmt.Errorf("%w: report execution %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.ReportExecution{}, fmt.Errorf("get report execution: %w", err)
	}
	return e, nil
}

// Recent returns the latest n executions, newest first.
func (r *ExecutionRepository) Recent(ctx context.Context, n int) ([]models.ReportExecution, error) {
	sql, args, err := builder().
		Select(executionColumns...).
		From(tableExecutions).
		OrderBy("created_at DESC").
		Limit(uint64(max(n, 1))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build executions query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query report executions: %w", err)
	}
	defer rows.Close()

	out := make([]models.ReportExecution, 0, n)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report execution: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report executions: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (models.ReportExecution, error) {
	var (
		e                     models.ReportExecution
		kind, trigger, status string
	)
	err := row.Scan(&e.ID, &kind, &trigger, &e.PeriodStart, &e.PeriodEnd, &status,
		&e.StartedAt, &e.CompletedAt, &e.GenerationMs, &e.DeliveryMs, &e.RecordsProcessed,
		&e.Recipients, &e.Successful, &e.Failed, &e.Pending, &e.FileName, &e.Error, &e.CreatedAt)
	if err != nil {
		return models.ReportExecution{}, err
	}
	e.Kind = models.ReportKind(kind)
	e.Trigger = models.ReportTrigger(trigger)
	e.Status = models.ExecutionStatus(status)
	return e, nil
}
