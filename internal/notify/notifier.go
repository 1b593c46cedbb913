package notify

import (
	"context"
	"log/slog"
)

// Notifier は通知イベントの送信先。
type Notifier interface {
	// Name はログとメトリクスで使用する送信先名を返す。
	Name() string
	// Notify はイベントを送信する。
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier はイベントを構造化ログとして出力する送信先。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はデフォルトロガーを使用する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Name は送信先名を返す。
func (n *LogNotifier) Name() string { return "log" }

// Notify はイベントをINFOレベルで出力する。
func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.logger.InfoContext(ctx, "reservation event",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.String("reservation_id", ev.ReservationID),
		slog.String("requester_id", ev.RequesterID),
		slog.String("start_date", ev.StartDate),
		slog.String("end_date", ev.EndDate),
	)
	return nil
}
