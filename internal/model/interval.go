// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// DateLayout は日付文字列の形式（YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// Interval は半開区間 [Start, End) の日付範囲を表す。
// Start と End は常にUTCの0時に正規化されており、Start < End が保証される。
// 値型として扱い、生成後に変更しない。
type Interval struct {
	Start time.Time
	End   time.Time
}

// Day は時刻tの暦日（tのロケーションにおける年月日）をUTC 0時で返す。
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewInterval は開始日と終了日から Interval を生成する。
// 時刻部分は切り捨てられる。start >= end の場合、またはゼロ値の場合は
// ErrInvalidRange を種別に持つ *APIError を返す。
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() {
		return Interval{}, NewInvalidRangeError("開始日と終了日は必須です")
	}
	s, e := Day(start), Day(end)
	if !s.Before(e) {
		return Interval{}, NewInvalidRangeError(fmt.Sprintf("終了日 %s は開始日 %s より後である必要があります",
			e.Format(DateLayout), s.Format(DateLayout)))
	}
	return Interval{Start: s, End: e}, nil
}

// MustInterval は NewInterval のテスト用ヘルパー。不正な範囲の場合はpanicする。
func MustInterval(start, end string) Interval {
	iv, err := ParseInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

// ParseDate は YYYY-MM-DD 形式の文字列を日付として解釈する。
// 2024-02-30 のような存在しない日付はエラーになる。
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewInvalidRangeError(fmt.Sprintf("日付の形式が不正です: %q", s))
	}
	return t, nil
}

// ParseInterval は文字列の開始日・終了日から Interval を生成する。
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Interval{}, err
	}
	return NewInterval(s, e)
}

// YearInterval は指定年の1月1日から翌年1月1日までの区間を返す。
func YearInterval(year int) Interval {
	return Interval{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Overlaps は2つの区間が重なるかを返す。
// 半開区間のため、一方の End と他方の Start が等しい場合は重ならない。
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains は日付dが区間に含まれるかを返す。
func (iv Interval) Contains(d time.Time) bool {
	day := Day(d)
	return !day.Before(iv.Start) && day.Before(iv.End)
}

// Equal は2つの区間が同一かを返す。
func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

// Compare は (Start, End) の辞書順で比較し、-1, 0, 1 を返す。
func (iv Interval) Compare(other Interval) int {
	if c := iv.Start.Compare(other.Start); c != 0 {
		return c
	}
	return iv.End.Compare(other.End)
}

// Nights は区間の日数を返す。
func (iv Interval) Nights() int {
	return int(iv.End.Sub(iv.Start).Hours() / 24)
}

// Clip は区間を window の範囲に切り詰める。重ならない場合は false を返す。
func (iv Interval) Clip(window Interval) (Interval, bool) {
	if !iv.Overlaps(window) {
		return Interval{}, false
	}
	out := iv
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out, true
}

// String は "YYYY-MM-DD/YYYY-MM-DD" 形式の文字列を返す。
func (iv Interval) String() string {
	return iv.Start.Format(DateLayout) + "/" + iv.End.Format(DateLayout)
}
