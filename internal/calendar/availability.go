package calendar

import (
	"slices"

	"github.com/hitoshi/sailbook/internal/model"
)

// BusySlots は window 内で有効な予約が占有している期間を返す。
// 重なる区間や隣接する区間は1つに統合され、開始日の昇順で返る。
func BusySlots(window model.Interval, active []model.Reservation) []model.Interval {
	clipped := make([]model.Interval, 0, len(active))
	for _, r := range active {
		if !r.IsActive() {
			continue
		}
		if iv, ok := r.Interval.Clip(window); ok {
			clipped = append(clipped, iv)
		}
	}
	slices.SortStableFunc(clipped, func(a, b model.Interval) int {
		return a.Compare(b)
	})

	var merged []model.Interval
	for _, iv := range clipped {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// FreeSlots は window 内で予約可能な期間（BusySlots の補集合）を返す。
// 長さ0の隙間は含まない。有効な予約がなければ window 全体を返す。
func FreeSlots(window model.Interval, active []model.Reservation) []model.Interval {
	free := []model.Interval{}
	cursor := window.Start
	for _, busy := range BusySlots(window, active) {
		if cursor.Before(busy.Start) {
			free = append(free, model.Interval{Start: cursor, End: busy.Start})
		}
		cursor = busy.End
	}
	if cursor.Before(window.End) {
		free = append(free, model.Interval{Start: cursor, End: window.End})
	}
	return free
}
