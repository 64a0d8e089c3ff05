package models

import (
	"fmt"
	"time"
)

// DateRange bounds every list and aggregation query. Both ends are
// inclusive and expressed in UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: start.UTC(), End: end.UTC()}
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidArgument)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidArgument,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Order is one sort key of a paged request.
type Order struct {
	Field string `json:"field" validate:"required"`
	Desc  bool   `json:"desc"`
}

// Sortable record fields accepted in Order.Field.
const (
	FieldID          = "id"
	FieldOrigination = "origination"
	FieldConnect     = "connect"
	FieldDuration    = "duration"
	FieldLocation    = "location"
	FieldUser        = "user"
	FieldDirection   = "direction"
	FieldCaller      = "caller"
	FieldCalled      = "called"
)

var sortableFields = map[string]struct{}{
	FieldID: {}, FieldOrigination: {}, FieldConnect: {}, FieldDuration: {},
	FieldLocation: {}, FieldUser: {}, FieldDirection: {}, FieldCaller: {}, FieldCalled: {},
}

func IsSortableField(f string) bool {
	_, ok := sortableFields[f]
	return ok
}

const MaxPageSize = 1000

type PageRequest struct {
	PageIndex int     `json:"pageIndex" validate:"gte=0"`
	PageSize  int     `json:"pageSize" validate:"gte=1,lte=1000"`
	Orders    []Order `json:"orders" validate:"dive"`
}

// CdrFilter is the validated query of the call list endpoint.
type CdrFilter struct {
	PageRequest
	StartDate time.Time  `json:"startDate" validate:"required"`
	EndDate   time.Time  `json:"endDate" validate:"required"`
	Direction *Direction `json:"direction,omitempty"`
	User      string     `json:"user,omitempty"`
}

func (f CdrFilter) Range() DateRange {
	return NewDateRange(f.StartDate, f.EndDate)
}

func (f CdrFilter) Predicate() Predicate {
	return Predicate{Range: f.Range(), Direction: f.Direction, User: f.User}
}

// Predicate is the store-level form of a filter.
type Predicate struct {
	Range     DateRange
	Direction *Direction
	// User matches the assigned user, the caller or the called number.
	User string
}

func (p Predicate) Match(r CallRecord) bool {
	if !p.Range.Contains(r.Origination) {
		return false
	}
	if p.Direction != nil && r.Direction != *p.Direction {
		return false
	}
	if p.User != "" && r.User != p.User && r.CallerNumber != p.User && r.CalledNumber != p.User {
		return false
	}
	return true
}

type PagedResult[T any] struct {
	PageIndex  int   `json:"pageIndex"`
	PageSize   int   `json:"pageSize"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	Items      []T   `json:"items"`
}

// TotalPages returns ceil(count/size), 0 for an empty set.
func TotalPages(count int64, size int) int {
	if count <= 0 || size <= 0 {
		return 0
	}
	return int((count + int64(size) - 1) / int64(size))
}
