package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// 送信結果のメトリクスラベル
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Recorder は通知結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordNotification(sink, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string, string) {}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	QueueSize int           // キューの上限。超過したイベントは破棄する
	Workers   int           // 送信ワーカー数
	Timeout   time.Duration // 送信先1件あたりのタイムアウト
	Logger    *slog.Logger
	Metrics   Recorder
}

// Dispatcher はイベントを有界キューに積み、ワーカーgoroutineから各送信先へ配送する。
// Publish は決してブロックしない。
type Dispatcher struct {
	sinks   []Notifier
	queue   chan Event
	workers int
	timeout time.Duration
	logger  *slog.Logger
	metrics Recorder

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。ワーカーはStartで起動する。
func NewDispatcher(cfg DispatcherConfig, sinks ...Notifier) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Start はワーカーgoroutineを起動する。2回目以降の呼び出しは無視される。
// ctxはワーカーが送信時に使用する親コンテキスト。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.deliver(ctx, ev)
			}
		}()
	}
}

// Publish はイベントをキューに積む。キューが満杯または停止済みの場合は破棄してログに残す。
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

// Shutdown は新規イベントの受付を止め、キューに残ったイベントの配送完了を待つ。
// ctxが先に終了した場合はctx.Err()を返す。
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(parent context.Context, ev Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(parent, d.timeout)
		err := sink.Notify(ctx, ev)
		cancel()

		if err != nil {
			d.logger.Warn("notification failed",
				slog.String("sink", sink.Name()),
				slog.String("event_id", ev.ID),
				slog.String("reservation_id", ev.ReservationID),
				slog.String("error", err.Error()),
			)
			d.metrics.RecordNotification(sink.Name(), OutcomeFailed)
			continue
		}
		d.metrics.RecordNotification(sink.Name(), OutcomeSent)
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.logger.Warn("notification dropped",
		slog.String("reason", reason),
		slog.String("event_id", ev.ID),
		slog.String("reservation_id", ev.ReservationID),
	)
	d.metrics.RecordNotification("queue", OutcomeDropped)
}
