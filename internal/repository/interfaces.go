// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/sailbook/internal/model"
)

// ReservationRepository は予約データの永続化インターフェース。
// 実装は有効な予約同士が重ならないことをストレージ側でも保証しなければならない。
type ReservationRepository interface {
	// Insert は予約を登録する。
	// 同一IDが存在する場合は model.ErrDuplicateID、
	// 有効な予約と重なる場合は model.ErrOverlapConstraint を返す。
	Insert(ctx context.Context, r *model.Reservation) error

	// FindByID は指定IDの予約を取得する。見つからない場合は model.ErrReservationNotFound を返す。
	FindByID(ctx context.Context, id string) (*model.Reservation, error)

	// ListActive は有効な予約（pending, confirmed）を開始日の昇順で返す。
	// window が nil でない場合は window と重なる予約のみを返す。
	ListActive(ctx context.Context, window *model.Interval) ([]model.Reservation, error)

	// ListByRequester は指定ユーザーの全予約（取消済みを含む）を開始日の降順で返す。
	ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)

	// UpdateStatus は expectedVersion が現在のバージョンと一致する場合のみ状態を変更し、
	// バージョンを1増やして UpdatedAt を at に設定する。
	// 不一致の場合は model.ErrVersionConflict、許可されない遷移の場合は model.ErrInvalidTransition を返す。
	UpdateStatus(ctx context.Context, id string, expectedVersion int, newStatus model.Status, at time.Time) (*model.Reservation, error)

	// Ping はストレージへの疎通を確認する。
	Ping(ctx context.Context) error
}
