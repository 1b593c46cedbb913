package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/sailbook/internal/model"
)

// compile-time interface check
var _ ReservationRepository = (*MemoryReservationRepo)(nil)

// MemoryReservationRepo はメモリ上で予約を保持するリポジトリ。
// 開発環境やテストで使用する。PostgreSQLの排他制約と同じ重複チェックをロック内で行う。
type MemoryReservationRepo struct {
	mu    sync.RWMutex
	byID  map[string]*model.Reservation
	order []string
}

// NewMemoryReservationRepo は空の MemoryReservationRepo を生成する。
func NewMemoryReservationRepo() *MemoryReservationRepo {
	return &MemoryReservationRepo{byID: make(map[string]*model.Reservation)}
}

// Insert は予約を登録する。
func (r *MemoryReservationRepo) Insert(ctx context.Context, res *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[res.ID]; exists {
		return model.ErrDuplicateID
	}
	if res.IsActive() {
		for _, existing := range r.byID {
			if existing.IsActive() && existing.Interval.Overlaps(res.Interval) {
				return model.ErrOverlapConstraint
			}
		}
	}

	stored := *res
	r.byID[res.ID] = &stored
	r.order = append(r.order, res.ID)
	return nil
}

// FindByID は指定IDの予約を取得する。
func (r *MemoryReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.byID[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	out := *res
	return &out, nil
}

// ListActive は有効な予約を開始日の昇順で返す。
func (r *MemoryReservationRepo) ListActive(ctx context.Context, window *model.Interval) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Reservation
	for _, id := range r.order {
		res := r.byID[id]
		if !res.IsActive() {
			continue
		}
		if window != nil && !res.Interval.Overlaps(*window) {
			continue
		}
		out = append(out, *res)
	}
	slices.SortStableFunc(out, func(a, b model.Reservation) int {
		return a.Interval.Compare(b.Interval)
	})
	return out, nil
}

// ListByRequester は指定ユーザーの全予約を開始日の降順で返す。
func (r *MemoryReservationRepo) ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Reservation
	for _, id := range r.order {
		if res := r.byID[id]; res.RequesterID == requesterID {
			out = append(out, *res)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Reservation) int {
		return b.Interval.Compare(a.Interval)
	})
	return out, nil
}

// UpdateStatus はバージョンが一致する場合のみ状態を変更する。
func (r *MemoryReservationRepo) UpdateStatus(ctx context.Context, id string, expectedVersion int, newStatus model.Status, at time.Time) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.byID[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	if res.Version != expectedVersion {
		return nil, model.ErrVersionConflict
	}
	if !res.Status.CanTransitionTo(newStatus) {
		return nil, model.ErrInvalidTransition
	}
	// cancelled からは遷移できないため、占有する区間が増えることはない
	res.Status = newStatus
	res.Version++
	res.UpdatedAt = at

	out := *res
	return &out, nil
}

// Ping は常に成功する。
func (r *MemoryReservationRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}
