// Package calendar は予約の重複判定と空き期間の計算を行う純粋関数を提供する。
// 状態を持たないため、複数のgoroutineから同時に呼び出してよい。
package calendar

import "github.com/hitoshi/sailbook/internal/model"

// FindConflict は candidate と重なる最初の有効な予約を返す。
// active は開始日の昇順に並んでいることを前提とし、
// 開始日が candidate.End 以降の予約に達した時点で走査を打ち切る。
// 取消済みの予約は無視する。
func FindConflict(candidate model.Interval, active []model.Reservation) (model.Reservation, bool) {
	for _, r := range active {
		if !r.Interval.Start.Before(candidate.End) {
			break
		}
		if !r.IsActive() {
			continue
		}
		if r.Interval.Overlaps(candidate) {
			return r, true
		}
	}
	return model.Reservation{}, false
}

// HasConflict は candidate が有効な予約のいずれかと重なるかを返す。
func HasConflict(candidate model.Interval, active []model.Reservation) bool {
	_, found := FindConflict(candidate, active)
	return found
}
