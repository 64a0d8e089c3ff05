// Package query pages through call records with a validated filter.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"cdr-analytics/internal/models"
	"cdr-analytics/internal/store"
)

// DefaultOrder is used when a request carries no orders.
var DefaultOrder = []models.Order{{Field: models.FieldOrigination, Desc: true}}

type Engine struct {
	store    store.RecordStore
	validate *validator.Validate
}

func NewEngine(s store.RecordStore) *Engine {
	return &Engine{store: s, validate: validator.New()}
}

// Page returns one page of the records matching f. The total count is
// taken before paging; pages past the end are empty.
func (e *Engine) Page(ctx context.Context, f models.CdrFilter) (models.PagedResult[models.CallRecord], error) {
	if err := e.Validate(f); err != nil {
		return models.PagedResult[models.CallRecord]{}, err
	}

	pred := f.Predicate()
	result := models.PagedResult[models.CallRecord]{
		PageIndex: f.PageIndex,
		PageSize:  f.PageSize,
		Items:     []models.CallRecord{},
	}

	total, err := e.store.Count(ctx, pred)
	if err != nil {
		return models.PagedResult[models.CallRecord]{}, upstream("count records", err)
	}
	result.TotalCount = total
	result.TotalPages = models.TotalPages(total, f.PageSize)

	// Compare page numbers rather than offsets so a huge index cannot
	// overflow into an earlier page.
	if f.PageIndex >= result.TotalPages {
		return result, nil
	}
	skip := int64(f.PageIndex) * int64(f.PageSize)

	items, err := e.store.Query(ctx, pred, Orders(f.Orders), int(skip), f.PageSize)
	if err != nil {
		return models.PagedResult[models.CallRecord]{}, upstream("query records", err)
	}
	if items != nil {
		result.Items = items
	}

	slog.Debug("paged call records",
		"page_index", f.PageIndex, "page_size", f.PageSize,
		"total", total, "returned", len(result.Items))
	return result, nil
}

// Validate checks page bounds, the date range and the order fields.
func (e *Engine) Validate(f models.CdrFilter) error {
	if err := e.validate.Struct(f); err != nil {
		return invalid(err)
	}
	if err := f.Range().Validate(); err != nil {
		return err
	}
	if f.Direction != nil && !f.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", models.ErrInvalidArgument, *f.Direction)
	}
	for _, o := range f.Orders {
		if !models.IsSortableField(o.Field) {
			return fmt.Errorf("%w: unknown sort field %q", models.ErrInvalidArgument, o.Field)
		}
	}
	return nil
}

// Orders returns the effective sort: the requested orders (or
// DefaultOrder) followed by id ascending unless id is already a key.
func Orders(requested []models.Order) []models.Order {
	if len(requested) == 0 {
		requested = DefaultOrder
	}
	out := make([]models.Order, 0, len(requested)+1)
	hasID := false
	for _, o := range requested {
		if o.Field == models.FieldID {
			hasID = true
		}
		out = append(out, o)
	}
	if !hasID {
		out = append(out, models.Order{Field: models.FieldID})
	}
	return out
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidArgument, strings.Join(msgs, "; "))
}

func upstream(op string, err error) error {
	if errors.Is(err, models.ErrInvalidArgument) || errors.Is(err, context.Canceled) {
		return err
	}
	slog.Error("record store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", models.ErrUpstreamUnavailable, op, err)
}
