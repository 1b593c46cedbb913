package model

import (
	"errors"
	"fmt"
)

// ストレージ層が返すエラー。
var (
	// ErrReservationNotFound は指定IDの予約が存在しないことを表す。
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrDuplicateID は同一IDの予約が既に存在することを表す。
	ErrDuplicateID = errors.New("duplicate reservation id")
	// ErrVersionConflict は楽観的ロックのバージョン不一致を表す。再試行可能。
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidTransition は許可されていない状態遷移を表す。
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOverlapConstraint はストレージの排他制約違反（有効な予約との重複）を表す。
	ErrOverlapConstraint = errors.New("overlap constraint violated")
)

// 業務エラーの種別。APIError.Err として保持され errors.Is で判定できる。
var (
	ErrInvalidRange = errors.New("invalid range")
	ErrConflict     = errors.New("reservation conflict")
	ErrForbidden    = errors.New("forbidden")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: validation, reservation, auth, system
	Action   string            // ユーザー向け対処方法
	Details  map[string]string // 補足情報（競合した予約IDなど）
	Err      error             // 種別判定用のセンチネルエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は errors.Is / errors.As のために種別エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRange        = "INVALID_RANGE"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeReservationNotFound = "RESERVATION_NOT_FOUND"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeAlreadyCancelled    = "ALREADY_CANCELLED"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeVersionConflict     = "VERSION_CONFLICT"
	ErrCodeInvalidNote         = "INVALID_NOTE"
	ErrCodeInvalidYear         = "INVALID_YEAR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// DetailConflictingID は競合した予約IDを格納する Details のキー。
const DetailConflictingID = "conflicting_reservation_id"

// NewInvalidRangeError は不正な日付範囲エラーを生成する。
func NewInvalidRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRange,
		Message:  fmt.Sprintf("無効な日付範囲です: %s", reason),
		Category: "validation",
		Action:   "開始日と終了日を YYYY-MM-DD 形式で指定し、終了日を開始日より後にしてください。",
		Err:      ErrInvalidRange,
	}
}

// NewConflictError は既存の有効な予約と重複する場合のエラーを生成する。
// conflictingID が空の場合は Details を付与しない。
func NewConflictError(conflictingID string) *APIError {
	e := &APIError{
		Code:     ErrCodeConflict,
		Message:  "指定された期間は既に予約されています。",
		Category: "reservation",
		Action:   "カレンダーで空いている期間を確認してから再度予約してください。",
		Err:      ErrConflict,
	}
	if conflictingID != "" {
		e.Details = map[string]string{DetailConflictingID: conflictingID}
	}
	return e
}

// ConflictingID は競合エラーから競合した予約IDを取り出す。
func ConflictingID(err error) (string, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != ErrCodeConflict {
		return "", false
	}
	id, ok := apiErr.Details[DetailConflictingID]
	return id, ok
}

// NewReservationNotFoundError は予約未検出エラーを生成する。
func NewReservationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", id),
		Category: "reservation",
		Action:   "予約IDを確認してください。",
		Err:      ErrReservationNotFound,
	}
}

// NewForbiddenError は他人の予約を操作しようとした場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この予約を操作する権限がありません。",
		Category: "auth",
		Action:   "自分が作成した予約のみ取り消せます。",
		Err:      ErrForbidden,
	}
}

// NewAlreadyCancelledError は取消済みの予約を再度取り消そうとした場合のエラーを生成する。
func NewAlreadyCancelledError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyCancelled,
		Message:  fmt.Sprintf("予約は既に取り消されています: %s", id),
		Category: "reservation",
		Action:   "予約一覧で現在の状態を確認してください。",
		Err:      ErrInvalidTransition,
	}
}

// NewInvalidTransitionError は許可されていない状態遷移のエラーを生成する。
func NewInvalidTransitionError(from, to Status) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("状態 %s から %s へは変更できません。", from, to),
		Category: "reservation",
		Action:   "予約一覧で現在の状態を確認してください。",
		Err:      ErrInvalidTransition,
	}
}

// NewVersionConflictError は再試行しても楽観的ロックが解消しなかった場合のエラーを生成する。
func NewVersionConflictError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeVersionConflict,
		Message:  fmt.Sprintf("予約が同時に更新されました: %s", id),
		Category: "reservation",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      ErrVersionConflict,
	}
}

// NewInvalidNoteError は予約メモが長すぎる場合のエラーを生成する。
func NewInvalidNoteError(maxRunes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNote,
		Message:  fmt.Sprintf("メモは%d文字以内で入力してください。", maxRunes),
		Category: "validation",
		Action:   "メモを短くしてから再度お試しください。",
	}
}

// NewInvalidYearError は年間予定表の年が範囲外の場合のエラーを生成する。
func NewInvalidYearError(year string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidYear,
		Message:  fmt.Sprintf("無効な年です: %s", year),
		Category: "validation",
		Action:   "年は 2000 から 2100 の範囲で指定してください。",
	}
}

// NewUnauthorizedError は利用者IDが特定できない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "利用者を特定できません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
