package aggregate

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"cdr-analytics/internal/models"
)

// AnsweredRates turns grouped counters into the answered-call rate series
// for g: one point per group, sorted chronologically, then labelled.
func AnsweredRates(groups []models.Group, g Granularity, namer Namer) ([]models.AnsweredCallRatePoint, error) {
	if _, err := g.GroupKey(); err != nil {
		return nil, err
	}

	points := make([]models.AnsweredCallRatePoint, 0, len(groups))
	for _, grp := range groups {
		p := models.AnsweredCallRatePoint{
			Year:                  grp.Year,
			TotalRecords:          grp.Total,
			ConnectedWithDuration: grp.Connected,
			Percentage:            models.Percentage(grp.Connected, grp.Total),
		}
		if g != Yearly {
			p.Month = grp.Month
		}
		if g == Weekly {
			p.Weekday = grp.Weekday
		}
		points = append(points, p)
	}

	slices.SortFunc(points, func(a, b models.AnsweredCallRatePoint) int {
		return cmp.Or(
			cmp.Compare(a.Year, b.Year),
			cmp.Compare(a.Month, b.Month),
			cmp.Compare(a.Weekday, b.Weekday),
		)
	})

	Label(points, g, namer)
	return points, nil
}

// Label sets the display label of every point in place.
func Label(points []models.AnsweredCallRatePoint, g Granularity, namer Namer) {
	if namer == nil {
		namer = English
	}
	for i := range points {
		p := &points[i]
		switch g {
		case Yearly:
			p.Label = strconv.Itoa(p.Year)
		case Monthly:
			p.Label = fmt.Sprintf("%s %d", namer.MonthName(p.Month), p.Year)
		case Weekly:
			p.Label = fmt.Sprintf("%s, %s %d", namer.WeekdayName(p.Weekday), namer.MonthName(p.Month), p.Year)
		}
	}
}
