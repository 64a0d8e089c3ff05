package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdr-analytics/internal/models"
)

var januaryRange = models.NewDateRange(
	time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRecordStoreQuery(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRecordStore(mock)

	in := models.DirectionIncoming
	pred := models.Predicate{Range: januaryRange, Direction: &in, User: "2002"}
	connect := time.Date(2024, 1, 2, 10, 0, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, call_uuid, .* FROM cdr\.call_records WHERE origination_time >= \$1 AND origination_time <= \$2 AND direction = \$3 AND \(assigned_user = \$4 OR caller_number = \$5 OR called_number = \$6\) ORDER BY origination_time DESC, id ASC LIMIT 2 OFFSET 2`).
		WithArgs(januaryRange.Start, januaryRange.End, "INCOMING", "2002", "2002", "2002").
		WillReturnRows(pgxmock.NewRows(recordColumns).
			AddRow(int64(7), "u-7", "0532", "2002", "INCOMING", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), &connect, 40, "Ankara", "2002", time.Now()).
			AddRow(int64(8), "u-8", "0533", "2002", "INCOMING", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), nil, 0, "Ankara", "", time.Now()))

	got, err := store.Query(context.Background(), pred,
		[]models.Order{{Field: models.FieldOrigination, Desc: true}, {Field: models.FieldID}}, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.DirectionIncoming, got[0].Direction)
	assert.True(t, got[0].Answered())
	assert.Nil(t, got[1].Connect)
	assert.False(t, got[1].Answered())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreQueryRejectsUnknownField(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	_, err := NewRecordStore(mock).Query(context.Background(), models.Predicate{Range: januaryRange},
		[]models.Order{{Field: "raw_json"}}, 0, 10)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreCount(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM cdr\.call_records WHERE origination_time >= \$1 AND origination_time <= \$2`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(23)))

	n, err := NewRecordStore(mock).Count(context.Background(), models.Predicate{Range: januaryRange})
	require.NoError(t, err)
	assert.Equal(t, int64(23), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreCountError(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := NewRecordStore(mock).Count(context.Background(), models.Predicate{Range: januaryRange})
	assert.ErrorContains(t, err, "connection reset")
}

func TestRecordStoreGroupAggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		key   models.GroupKey
		query string
		cols  []string
		row   []any
		want  models.Group
	}{
		{
			name:  "year month",
			key:   models.GroupByYearMonth,
			query: `SELECT EXTRACT\(YEAR .*EXTRACT\(MONTH .*COUNT\(\*\) FILTER \(WHERE connect_time IS NOT NULL AND duration > 0\).* GROUP BY 1, 2 ORDER BY 1, 2`,
			cols:  []string{"year", "month", "total", "connected", "inbound", "outbound"},
			row:   []any{2024, 1, int64(3), int64(1), int64(1), int64(1)},
			want:  models.Group{Year: 2024, Month: 1, Total: 3, Connected: 1, Inbound: 1, Outbound: 1},
		},
		{
			name:  "weekday",
			key:   models.GroupByYearMonthWeekday,
			query: `EXTRACT\(DOW FROM origination_time AT TIME ZONE 'UTC'\)::int \+ 1\).* GROUP BY 1, 2, 3`,
			cols:  []string{"year", "month", "weekday", "total", "connected", "inbound", "outbound"},
			row:   []any{2024, 1, 2, int64(5), int64(4), int64(0), int64(5)},
			want:  models.Group{Year: 2024, Month: 1, Weekday: 2, Total: 5, Connected: 4, Outbound: 5},
		},
		{
			name:  "location",
			key:   models.GroupByLocation,
			query: `SELECT location, COUNT\(\*\).* GROUP BY 1 ORDER BY 1`,
			cols:  []string{"location", "total", "connected", "inbound", "outbound"},
			row:   []any{"Ankara", int64(2), int64(1), int64(1), int64(1)},
			want:  models.Group{Location: "Ankara", Total: 2, Connected: 1, Inbound: 1, Outbound: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mock := newMock(t)
			mock.ExpectQuery(tc.query).
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnRows(pgxmock.NewRows(tc.cols).AddRow(tc.row...))

			got, err := NewRecordStore(mock).GroupAggregate(context.Background(), models.Predicate{Range: januaryRange}, tc.key)
			require.NoError(t, err)
			assert.Equal(t, []models.Group{tc.want}, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRecordStoreGroupAggregateUnknownKey(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore(newMock(t)).GroupAggregate(context.Background(), models.Predicate{Range: januaryRange}, "hour")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
