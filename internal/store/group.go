package store

import (
	"cmp"
	"fmt"
	"slices"

	"cdr-analytics/internal/models"
)

type groupID struct {
	year, month, weekday int
	location             string
}

// GroupRecords groups records by key and fills every counter. It is the
// reference implementation of RecordStore.GroupAggregate; the result is
// sorted by the key fields ascending.
func GroupRecords(records []models.CallRecord, key models.GroupKey) ([]models.Group, error) {
	idOf, err := groupIDFunc(key)
	if err != nil {
		return nil, err
	}

	index := make(map[groupID]int)
	groups := make([]models.Group, 0)

	for _, r := range records {
		id := idOf(r)
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, models.Group{
				Year:     id.year,
				Month:    id.month,
				Weekday:  id.weekday,
				Location: id.location,
			})
		}

		g := &groups[i]
		g.Total++
		if r.Answered() {
			g.Connected++
		}
		switch r.Direction {
		case models.DirectionIncoming:
			g.Inbound++
		case models.DirectionOutgoing:
			g.Outbound++
		}
	}

	SortGroups(groups)
	return groups, nil
}

// SortGroups orders groups by year, month, weekday and location.
func SortGroups(groups []models.Group) {
	slices.SortFunc(groups, func(a, b models.Group) int {
		return cmp.Or(
			cmp.Compare(a.Year, b.Year),
			cmp.Compare(a.Month, b.Month),
			cmp.Compare(a.Weekday, b.Weekday),
			cmp.Compare(a.Location, b.Location),
		)
	})
}

func groupIDFunc(key models.GroupKey) (func(models.CallRecord) groupID, error) {
	switch key {
	case models.GroupByYear:
		return func(r models.CallRecord) groupID {
			return groupID{year: r.Origination.UTC().Year()}
		}, nil
	case models.GroupByYearMonth:
		return func(r models.CallRecord) groupID {
			t := r.Origination.UTC()
			return groupID{year: t.Year(), month: int(t.Month())}
		}, nil
	case models.GroupByYearMonthWeekday:
		return func(r models.CallRecord) groupID {
			t := r.Origination.UTC()
			return groupID{year: t.Year(), month: int(t.Month()), weekday: int(t.Weekday()) + 1}
		}, nil
	case models.GroupByLocation:
		return func(r models.CallRecord) groupID {
			return groupID{location: r.Location}
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown group key %q", models.ErrInvalidArgument, key)
}
