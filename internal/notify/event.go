// Package notify は予約の作成・取消を外部の協調サービス（メール送信など）へ通知する。
// 通知は予約処理と切り離して非同期に行われ、失敗は呼び出し元へ伝播しない。
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sailbook/internal/model"
)

// EventType は通知イベントの種別。
type EventType string

const (
	// EventCreated は予約が確定したことを表す。
	EventCreated EventType = "created"
	// EventCancelled は予約が取り消されたことを表す。
	EventCancelled EventType = "cancelled"
)

// Event は外部へ送信する予約イベント。
type Event struct {
	ID            string    `json:"event_id"`
	Type          EventType `json:"type"`
	ReservationID string    `json:"reservation_id"`
	RequesterID   string    `json:"requester_id"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	Status        string    `json:"status"`
	Version       int       `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent は予約から通知イベントを生成する。
func NewEvent(t EventType, r *model.Reservation) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		ReservationID: r.ID,
		RequesterID:   r.RequesterID,
		StartDate:     r.Interval.Start.Format(model.DateLayout),
		EndDate:       r.Interval.End.Format(model.DateLayout),
		Status:        string(r.Status),
		Version:       r.Version,
		OccurredAt:    r.UpdatedAt,
	}
}
