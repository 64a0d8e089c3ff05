package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cdr-analytics/internal/models"
)

const (
	defaultPageSize       = 10
	defaultExecutionCount = 20
	maxExecutionCount     = 200
	dateLayout            = "2006-01-02"
)

// parseTime accepts RFC3339 or a bare date. A bare date read as an upper
// bound means the last nanosecond of that day, keeping ranges inclusive.
func parseTime(value, name string, upper bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", models.ErrInvalidArgument, name)
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD, got %q", models.ErrInvalidArgument, name, value)
	}
	if upper {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d, nil
}

func parseRange(q url.Values, startKey, endKey string) (models.DateRange, error) {
	start, err := parseTime(q.Get(startKey), startKey, false)
	if err != nil {
		return models.DateRange{}, err
	}
	end, err := parseTime(q.Get(endKey), endKey, true)
	if err != nil {
		return models.DateRange{}, err
	}
	rng := models.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		return models.DateRange{}, err
	}
	return rng, nil
}

func parseInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", models.ErrInvalidArgument, key, v)
	}
	return n, nil
}

// parseOrders reads "field:asc,other:desc". The direction defaults to asc.
func parseOrders(raw []string) ([]models.Order, error) {
	var orders []models.Order
	for _, item := range splitList(raw) {
		field, dir, _ := strings.Cut(item, ":")
		o := models.Order{Field: strings.TrimSpace(field)}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			o.Desc = true
		default:
			return nil, fmt.Errorf("%w: unknown sort direction %q", models.ErrInvalidArgument, dir)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// splitList flattens repeated and comma separated values.
func splitList(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func parseFilter(q url.Values) (models.CdrFilter, error) {
	var f models.CdrFilter

	rng, err := parseRange(q, "startDate", "endDate")
	if err != nil {
		return f, err
	}
	f.StartDate, f.EndDate = rng.Start, rng.End

	if f.PageIndex, err = parseInt(q, "pageIndex", 0); err != nil {
		return f, err
	}
	if f.PageSize, err = parseInt(q, "pageSize", defaultPageSize); err != nil {
		return f, err
	}
	if f.Orders, err = parseOrders(q["orders"]); err != nil {
		return f, err
	}

	if v := strings.TrimSpace(q.Get("direction")); v != "" {
		d, err := models.ParseDirection(v)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	f.User = strings.TrimSpace(q.Get("user"))
	return f, nil
}
