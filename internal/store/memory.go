package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"cdr-analytics/internal/models"
)

type snapshot struct {
	records []models.CallRecord
}

// MemoryStore keeps an immutable snapshot of records. Writers publish a
// new snapshot; readers never block.
type MemoryStore struct {
	v      atomic.Value // *snapshot
	mu     sync.Mutex   // serialises writers
	nextID int64
}

func NewMemoryStore(records ...models.CallRecord) *MemoryStore {
	s := &MemoryStore{}
	s.v.Store(&snapshot{})
	s.Add(records...)
	return s
}

// Add appends records. Records without an ID get the next free one.
func (s *MemoryStore) Add(records ...models.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(s.load(), records)
}

// ReplaceAll swaps the whole collection.
func (s *MemoryStore) ReplaceAll(records []models.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 0
	s.addLocked(&snapshot{}, records)
}

func (s *MemoryStore) addLocked(cur *snapshot, records []models.CallRecord) {
	next := make([]models.CallRecord, len(cur.records), len(cur.records)+len(records))
	copy(next, cur.records)

	for _, r := range records {
		if r.ID == 0 {
			s.nextID++
			r.ID = s.nextID
		} else if r.ID > s.nextID {
			s.nextID = r.ID
		}
		r.Origination = r.Origination.UTC()
		next = append(next, r)
	}

	s.v.Store(&snapshot{records: next})
}

func (s *MemoryStore) load() *snapshot {
	return s.v.Load().(*snapshot)
}

func (s *MemoryStore) filter(pred models.Predicate) []models.CallRecord {
	snap := s.load()
	out := make([]models.CallRecord, 0)
	for _, r := range snap.records {
		if pred.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) Query(ctx context.Context, pred models.Predicate, orders []models.Order, skip, limit int) ([]models.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if !models.IsSortableField(o.Field) {
			return nil, fmt.Errorf("%w: unknown sort field %q", models.ErrInvalidArgument, o.Field)
		}
	}

	matched := s.filter(pred)
	slices.SortStableFunc(matched, func(a, b models.CallRecord) int {
		for _, o := range orders {
			c := compareField(a, b, o.Field)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(matched) {
		return []models.CallRecord{}, nil
	}
	end := len(matched)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return slices.Clone(matched[skip:end]), nil
}

func (s *MemoryStore) Count(ctx context.Context, pred models.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.filter(pred))), nil
}

func (s *MemoryStore) GroupAggregate(ctx context.Context, pred models.Predicate, key models.GroupKey) ([]models.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GroupRecords(s.filter(pred), key)
}

// compareField orders NULL connect times after every value, like
// PostgreSQL does for ascending sorts.
func compareField(a, b models.CallRecord, field string) int {
	switch field {
	case models.FieldID:
		return cmp.Compare(a.ID, b.ID)
	case models.FieldOrigination:
		return a.Origination.Compare(b.Origination)
	case models.FieldConnect:
		switch {
		case a.Connect == nil && b.Connect == nil:
			return 0
		case a.Connect == nil:
			return 1
		case b.Connect == nil:
			return -1
		}
		return a.Connect.Compare(*b.Connect)
	case models.FieldDuration:
		return cmp.Compare(a.DurationSec, b.DurationSec)
	case models.FieldLocation:
		return strings.Compare(a.Location, b.Location)
	case models.FieldUser:
		return strings.Compare(a.User, b.User)
	case models.FieldDirection:
		return strings.Compare(string(a.Direction), string(b.Direction))
	case models.FieldCaller:
		return strings.Compare(a.CallerNumber, b.CallerNumber)
	case models.FieldCalled:
		return strings.Compare(a.CalledNumber, b.CalledNumber)
	}
	return 0
}
