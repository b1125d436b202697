package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
)

// MemorySnapshotRepository keeps snapshots in process. Used for tests and
// the "memory" backend.
type MemorySnapshotRepository struct {
	mu     sync.RWMutex
	rows   map[string]*models.SignalSnapshot
	nextID int64
	now    func() time.Time
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{
		rows: make(map[string]*models.SignalSnapshot),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ domrepo.SnapshotRepository = (*MemorySnapshotRepository)(nil)

func (r *MemorySnapshotRepository) Save(_ context.Context, s *models.SignalSnapshot) error {
	if err := s.CheckPairing(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.Key()
	if cur, ok := r.rows[key]; ok {
		s.ID, s.RunID, s.CreatedAt, s.UpdatedAt = cur.ID, cur.RunID, cur.CreatedAt, cur.UpdatedAt
		return nil
	}
	r.nextID++
	now := r.now()
	s.ID, s.CreatedAt, s.UpdatedAt = r.nextID, now, now
	r.rows[key] = cloneSnapshot(s)
	return nil
}

func (r *MemorySnapshotRepository) FindEligibleForLabeling(_ context.Context, symbol string, cutoff time.Time, force bool, limit int) ([]*models.SignalSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	out := r.filter(func(s *models.SignalSnapshot) bool {
		return s.Symbol == symbol && !s.GeneratedAt.After(cutoff) && (force || !s.IsLabeled())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySnapshotRepository) QueryRange(_ context.Context, symbol string, start, end time.Time, onlyLabeled bool) ([]*models.SignalSnapshot, error) {
	return r.filter(func(s *models.SignalSnapshot) bool {
		return s.Symbol == symbol &&
			!s.GeneratedAt.Before(start) && !s.GeneratedAt.After(end) &&
			(!onlyLabeled || s.IsLabeled())
	}), nil
}

func (r *MemorySnapshotRepository) Update(_ context.Context, s *models.SignalSnapshot, fields ...string) error {
	if err := models.ValidateUpdateFields(fields); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[s.Key()]
	if !ok {
		return fmt.Errorf("update snapshot %s: %w", s.Key(), models.ErrSnapshotNotFound)
	}
	if !s.UpdatedAt.IsZero() && !s.UpdatedAt.Equal(cur.UpdatedAt) {
		return fmt.Errorf("update snapshot %s: %w", s.Key(), models.ErrConcurrentLabelConflict)
	}

	next := cloneSnapshot(cur)
	for _, f := range fields {
		switch f {
		case models.FieldPriceNow:
			next.PriceNow = copyFloat(s.PriceNow)
		case models.FieldPriceFuture:
			next.PriceFuture = copyFloat(s.PriceFuture)
		case models.FieldLabelDirection:
			next.LabelDirection = s.LabelDirection
		case models.FieldLabelMagnitude:
			next.LabelMagnitude = copyFloat(s.LabelMagnitude)
		case models.FieldLabeledAt:
			next.LabeledAt = copyTime(s.LabeledAt)
		}
	}
	if err := next.CheckPairing(); err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	// strictly increasing so back-to-back writes stay distinguishable
	now := r.now()
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Microsecond)
	}
	next.UpdatedAt = now
	r.rows[s.Key()] = next
	s.UpdatedAt = now
	return nil
}

// Len reports the number of stored snapshots.
func (r *MemorySnapshotRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func (r *MemorySnapshotRepository) filter(keep func(*models.SignalSnapshot) bool) []*models.SignalSnapshot {
	r.mu.RLock()
	out := make([]*models.SignalSnapshot, 0)
	for _, s := range r.rows {
		if keep(s) {
			out = append(out, cloneSnapshot(s))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].GeneratedAt.Before(out[j].GeneratedAt)
	})
	return out
}

func cloneSnapshot(s *models.SignalSnapshot) *models.SignalSnapshot {
	c := *s
	c.PriceNow = copyFloat(s.PriceNow)
	c.PriceFuture = copyFloat(s.PriceFuture)
	c.LabelMagnitude = copyFloat(s.LabelMagnitude)
	c.LabeledAt = copyTime(s.LabeledAt)
	if s.SignalReasons != nil {
		c.SignalReasons = append([]string(nil), s.SignalReasons...)
	}
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	x := *t
	return &x
}
