package aggregate

import (
	"fmt"
	"strings"

	"cdr-analytics/internal/models"
)

// Granularity is the time bucket of the answered-call rate series.
type Granularity string

const (
	Yearly  Granularity = "yearly"
	Monthly Granularity = "monthly"
	Weekly  Granularity = "weekly"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Yearly, Monthly, Weekly:
		return g, nil
	case "":
		return Monthly, nil
	}
	return "", fmt.Errorf("%w: unknown granularity %q", models.ErrInvalidArgument, s)
}

// GroupKey is the store grouping that backs g.
func (g Granularity) GroupKey() (models.GroupKey, error) {
	switch g {
	case Yearly:
		return models.GroupByYear, nil
	case Monthly:
		return models.GroupByYearMonth, nil
	case Weekly:
		return models.GroupByYearMonthWeekday, nil
	}
	return "", fmt.Errorf("%w: unknown granularity %q", models.ErrInvalidArgument, g)
}
