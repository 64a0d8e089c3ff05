package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdr-analytics/internal/models"
)

func ts(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func fixture() []models.CallRecord {
	return []models.CallRecord{
		{ID: 1, Direction: models.DirectionIncoming, Origination: ts(2024, 1, 5, 9), Connect: ptr(ts(2024, 1, 5, 9)), DurationSec: 30, Location: "Ankara", User: "alice"},
		{ID: 2, Direction: models.DirectionOutgoing, Origination: ts(2024, 1, 5, 10), DurationSec: 0, Location: "Ankara", User: "bob"},
		{ID: 3, Direction: models.DirectionInternal, Origination: ts(2024, 2, 7, 11), Connect: ptr(ts(2024, 2, 7, 11)), DurationSec: 10, Location: "Esenyurt", User: "alice"},
		{ID: 4, Direction: models.DirectionIncoming, Origination: ts(2023, 12, 31, 23), Connect: ptr(ts(2023, 12, 31, 23)), DurationSec: 0, Location: "Esenyurt"},
	}
}

func allTime() models.DateRange {
	return models.NewDateRange(ts(2000, 1, 1, 0), ts(2100, 1, 1, 0))
}

func TestMemoryStoreQueryOrdersAndPages(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(fixture()...)
	ctx := context.Background()
	pred := models.Predicate{Range: allTime()}

	got, err := s.Query(ctx, pred, []models.Order{{Field: models.FieldOrigination, Desc: true}}, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)

	got, err = s.Query(ctx, pred, []models.Order{{Field: models.FieldLocation}, {Field: models.FieldID, Desc: true}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 4, 3}, ids(got))

	got, err = s.Query(ctx, pred, nil, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Query(ctx, pred, []models.Order{{Field: "password"}}, 0, 1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestMemoryStoreConnectNullsSortLast(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(fixture()...)
	got, err := s.Query(context.Background(), models.Predicate{Range: allTime()},
		[]models.Order{{Field: models.FieldConnect}, {Field: models.FieldID}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got[len(got)-1].ID)
}

func TestMemoryStoreCountFilters(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(fixture()...)
	ctx := context.Background()
	in := models.DirectionIncoming

	n, err := s.Count(ctx, models.Predicate{Range: allTime()})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = s.Count(ctx, models.Predicate{Range: allTime(), Direction: &in})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, models.Predicate{Range: allTime(), User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, models.Predicate{Range: models.NewDateRange(ts(2024, 1, 1, 0), ts(2024, 1, 5, 9))})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "end bound is inclusive")
}

func TestMemoryStoreAssignsIDsAndReplaces(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.Add(models.CallRecord{Origination: ts(2024, 1, 1, 0)}, models.CallRecord{Origination: ts(2024, 1, 1, 1)})
	got, err := s.Query(context.Background(), models.Predicate{Range: allTime()}, []models.Order{{Field: models.FieldID}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(got))

	s.ReplaceAll(fixture()[:1])
	n, err := s.Count(context.Background(), models.Predicate{Range: allTime()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGroupRecords(t *testing.T) {
	t.Parallel()

	groups, err := GroupRecords(fixture(), models.GroupByYearMonth)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, models.Group{Year: 2023, Month: 12, Total: 1, Connected: 0, Inbound: 1}, groups[0])
	assert.Equal(t, models.Group{Year: 2024, Month: 1, Total: 2, Connected: 1, Inbound: 1, Outbound: 1}, groups[1])
	assert.Equal(t, models.Group{Year: 2024, Month: 2, Total: 1, Connected: 1}, groups[2])

	groups, err = GroupRecords(fixture(), models.GroupByLocation)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Ankara", groups[0].Location)
	assert.Equal(t, "Esenyurt", groups[1].Location)

	groups, err = GroupRecords(fixture(), models.GroupByYearMonthWeekday)
	require.NoError(t, err)
	// 2024-01-05 is a Friday.
	assert.Equal(t, 6, groups[1].Weekday)

	groups, err = GroupRecords(nil, models.GroupByYear)
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)

	_, err = GroupRecords(fixture(), "hour")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func ids(records []models.CallRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
