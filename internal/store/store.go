// Package store defines the record store capability consumed by the query
// and aggregation engines and ships an in-memory implementation of it.
package store

import (
	"context"

	"cdr-analytics/internal/models"
)

// RecordStore is a queryable collection of call records. Implementations
// must be safe for concurrent readers.
type RecordStore interface {
	Query(ctx context.Context, pred models.Predicate, orders []models.Order, skip, limit int) ([]models.CallRecord, error)
	Count(ctx context.Context, pred models.Predicate) (int64, error)
	GroupAggregate(ctx context.Context, pred models.Predicate, key models.GroupKey) ([]models.Group, error)
}
