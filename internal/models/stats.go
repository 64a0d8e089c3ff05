package models

import (
	"github.com/shopspring/decimal"
)

// GroupKey selects the fixed grouping dimensions of the record store.
type GroupKey string

const (
	GroupByYear             GroupKey = "year"
	GroupByYearMonth        GroupKey = "year_month"
	GroupByYearMonthWeekday GroupKey = "year_month_weekday"
	GroupByLocation         GroupKey = "location"
)

// Group is one row of a group aggregate. Only the fields belonging to the
// requested key are set; counters are always filled.
type Group struct {
	Year     int
	Month    int
	Weekday  int // 1 = Sunday .. 7 = Saturday
	Location string

	Total     int64
	Connected int64
	Inbound   int64
	Outbound  int64
}

type AnsweredCallRatePoint struct {
	Year                  int     `json:"year"`
	Month                 int     `json:"month,omitempty"`
	Weekday               int     `json:"weekday,omitempty"`
	Label                 string  `json:"label"`
	TotalRecords          int64   `json:"totalRecords"`
	ConnectedWithDuration int64   `json:"connectedWithDurationCount"`
	Percentage            float64 `json:"percentage"`
}

// LocationStatistics holds index-aligned arrays: Locations[i] pairs with
// Inbound[i] and Outbound[i].
type LocationStatistics struct {
	Locations []string `json:"locations"`
	Inbound   []int64  `json:"inbound"`
	Outbound  []int64  `json:"outbound"`
}

func NewLocationStatistics(n int) LocationStatistics {
	return LocationStatistics{
		Locations: make([]string, 0, n),
		Inbound:   make([]int64, 0, n),
		Outbound:  make([]int64, 0, n),
	}
}

// Percentage returns part/total*100 rounded to two decimals, or 0 when
// total is zero.
func Percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	if part < 0 {
		part = 0
	}
	if part > total {
		part = total
	}
	pct := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(total), 2)
	f, _ := pct.Float64()
	return f
}
