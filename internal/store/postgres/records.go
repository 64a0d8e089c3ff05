package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"cdr-analytics/internal/models"
)

var recordColumns = []string{
	"id", "call_uuid", "caller_number", "called_number", "direction",
	"origination_time", "connect_time", "duration", "location", "assigned_user", "created_at",
}

// sortColumns maps the public sort fields onto table columns.
var sortColumns = map[string]string{
	models.FieldID:          "id",
	models.FieldOrigination: "origination_time",
	models.FieldConnect:     "connect_time",
	models.FieldDuration:    "duration",
	models.FieldLocation:    "location",
	models.FieldUser:        "assigned_user",
	models.FieldDirection:   "direction",
	models.FieldCaller:      "caller_number",
	models.FieldCalled:      "called_number",
}

// connectedExpr mirrors models.CallRecord.Answered.
const connectedExpr = "connect_time IS NOT NULL AND duration > 0"

// RecordStore reads cdr.call_records.
type RecordStore struct {
	q Querier
}

func NewRecordStore(q Querier) *RecordStore {
	return &RecordStore{q: q}
}

func applyPredicate(b squirrel.SelectBuilder, pred models.Predicate) squirrel.SelectBuilder {
	b = b.Where(squirrel.GtOrEq{"origination_time": pred.Range.Start}).
		Where(squirrel.LtOrEq{"origination_time": pred.Range.End})
	if pred.Direction != nil {
		b = b.Where(squirrel.Eq{"direction": string(*pred.Direction)})
	}
	if pred.User != "" {
		b = b.Where(squirrel.Or{
			squirrel.Eq{"assigned_user": pred.User},
			squirrel.Eq{"caller_number": pred.User},
			squirrel.Eq{"called_number": pred.User},
		})
	}
	return b
}

func (s *RecordStore) Query(ctx context.Context, pred models.Predicate, orders []models.Order, skip, limit int) ([]models.CallRecord, error) {
	b := applyPredicate(builder().Select(recordColumns...).From(tableCallRecords), pred)

	for _, o := range orders {
		col, ok := sortColumns[o.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", models.ErrInvalidArgument, o.Field)
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		b = b.OrderBy(col + dir)
	}
	if skip > 0 {
		b = b.Offset(uint64(skip))
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record query: %w", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	out := make([]models.CallRecord, 0, limit)
	for rows.Next() {
		var (
			r         models.CallRecord
			direction string
			connect   *time.Time
		)
		if err := rows.Scan(
			&r.ID, &r.CallUUID, &r.CallerNumber, &r.CalledNumber, &direction,
			&r.Origination, &connect, &r.DurationSec, &r.Location, &r.User, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		r.Direction = models.Direction(direction)
		r.Origination = r.Origination.UTC()
		if connect != nil {
			c := connect.UTC()
			r.Connect = &c
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}

	return out, nil
}

func (s *RecordStore) Count(ctx context.Context, pred models.Predicate) (int64, error) {
	sql, args, err := applyPredicate(builder().Select("COUNT(*)").From(tableCallRecords), pred).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var n int64
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count call records: %w", err)
	}
	return n, nil
}

// groupDims lists the key expressions selected before the counters.
func groupDims(key models.GroupKey) ([]string, error) {
	const (
		year    = "EXTRACT(YEAR FROM origination_time AT TIME ZONE 'UTC')::int"
		month   = "EXTRACT(MONTH FROM origination_time AT TIME ZONE 'UTC')::int"
		weekday = "(EXTRACT(DOW FROM origination_time AT TIME ZONE 'UTC')::int + 1)"
	)
	switch key {
	case models.GroupByYear:
		return []string{year}, nil
	case models.GroupByYearMonth:
		return []string{year, month}, nil
	case models.GroupByYearMonthWeekday:
		return []string{year, month, weekday}, nil
	case models.GroupByLocation:
		return []string{"location"}, nil
	}
	return nil, fmt.Errorf("%w: unknown group key %q", models.ErrInvalidArgument, key)
}

func (s *RecordStore) GroupAggregate(ctx context.Context, pred models.Predicate, key models.GroupKey) ([]models.Group, error) {
	dims, err := groupDims(key)
	if err != nil {
		return nil, err
	}

	cols := append([]string{}, dims...)
	cols = append(cols,
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE "+connectedExpr+")",
		"COUNT(*) FILTER (WHERE direction = 'INCOMING')",
		"COUNT(*) FILTER (WHERE direction = 'OUTGOING')",
	)
	ordinals := make([]string, len(dims))
	for i := range dims {
		ordinals[i] = fmt.Sprint(i + 1)
	}

	b := applyPredicate(builder().Select(cols...).From(tableCallRecords), pred).
		GroupBy(ordinals...).
		OrderBy(ordinals...)

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build group query: %w", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("group call records: %w", err)
	}
	defer rows.Close()

	out := make([]models.Group, 0)
	for rows.Next() {
		var g models.Group
		dest := make([]any, 0, len(cols))
		switch key {
		case models.GroupByLocation:
			dest = append(dest, &g.Location)
		case models.GroupByYear:
			dest = append(dest, &g.Year)
		case models.GroupByYearMonth:
			dest = append(dest, &g.Year, &g.Month)
		case models.GroupByYearMonthWeekday:
			dest = append(dest, &g.Year, &g.Month, &g.Weekday)
		}
		dest = append(dest, &g.Total, &g.Connected, &g.Inbound, &g.Outbound)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	return out, nil
}
