// Package aggregate computes answered-call rates and per-location call
// volumes from grouped call records.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cdr-analytics/internal/models"
	"cdr-analytics/internal/store"
)

type Engine struct {
	store store.RecordStore
	namer Namer
}

func NewEngine(s store.RecordStore, namer Namer) *Engine {
	if namer == nil {
		namer = English
	}
	return &Engine{store: s, namer: namer}
}

// AnsweredCallRate returns one point per period of g inside rng.
func (e *Engine) AnsweredCallRate(ctx context.Context, rng models.DateRange, g Granularity) ([]models.AnsweredCallRatePoint, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	key, err := g.GroupKey()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	groups, err := e.store.GroupAggregate(ctx, models.Predicate{Range: rng}, key)
	if err != nil {
		return nil, upstream("answered call rate", err)
	}

	points, err := AnsweredRates(groups, g, e.namer)
	if err != nil {
		return nil, err
	}

	slog.Debug("computed answered call rate",
		"granularity", g, "points", len(points), "elapsed", time.Since(start))
	return points, nil
}

// LocationStatistics returns inbound and outbound call counts per location
// inside rng.
func (e *Engine) LocationStatistics(ctx context.Context, rng models.DateRange) (models.LocationStatistics, error) {
	if err := rng.Validate(); err != nil {
		return models.LocationStatistics{}, err
	}

	groups, err := e.store.GroupAggregate(ctx, models.Predicate{Range: rng}, models.GroupByLocation)
	if err != nil {
		return models.LocationStatistics{}, upstream("location statistics", err)
	}

	stats := LocationStats(groups)
	slog.Debug("computed location statistics", "locations", len(stats.Locations))
	return stats, nil
}

func upstream(op string, err error) error {
	if errors.Is(err, models.ErrInvalidArgument) || errors.Is(err, context.Canceled) {
		return err
	}
	slog.Error("record store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", models.ErrUpstreamUnavailable, op, err)
}
