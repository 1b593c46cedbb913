package model

import "time"

// Status は予約の状態を表す。
type Status string

const (
	// StatusPending は承認待ち。現在の作成フローでは使用しない。
	StatusPending Status = "pending"
	// StatusConfirmed は確定済み。
	StatusConfirmed Status = "confirmed"
	// StatusCancelled は取消済み。終端状態。
	StatusCancelled Status = "cancelled"
)

// ParseStatus は文字列を Status に変換する。未知の値は false を返す。
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// IsActive は予約枠を占有する状態（pending, confirmed）かを返す。
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransitionTo は s から next への遷移が許可されているかを返す。
// 許可される遷移は pending→confirmed, pending→cancelled, confirmed→cancelled のみ。
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	default:
		return false
	}
}

// Reservation は船舶の予約を表す。
// 予約は削除されず、取消時も状態が cancelled に変わるだけで履歴として残る。
type Reservation struct {
	ID          string
	RequesterID string
	Interval    Interval
	Status      Status
	Note        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

// IsActive は予約が枠を占有しているかを返す。
func (r *Reservation) IsActive() bool {
	return r.Status.IsActive()
}

// NextUpdatedAt は状態変更時の更新日時を返す。
// 時計の分解能が粗い場合でも UpdatedAt が単調増加するよう、前回値より最低1µs進める。
func (r *Reservation) NextUpdatedAt(now time.Time) time.Time {
	floor := r.UpdatedAt.Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}
