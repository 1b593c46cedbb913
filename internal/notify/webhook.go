package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultWebhookAttempts  = 3
	defaultWebhookBaseDelay = time.Second
)

// WebhookConfig はWebhookNotifierの設定。
type WebhookConfig struct {
	URL         string
	Client      *http.Client  // SSRF防止済みクライアントを渡す
	MaxAttempts int           // 0以下の場合は3回
	BaseDelay   time.Duration // 初回の再試行待ち。以降2倍ずつ増加する
}

// WebhookNotifier はイベントをJSONでPOSTする送信先。
// 一時的な失敗（ネットワークエラー、429、5xx）は指数バックオフで再試行する。
type WebhookNotifier struct {
	url         string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultWebhookAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultWebhookBaseDelay
	}
	return &WebhookNotifier{
		url:         cfg.URL,
		client:      cfg.Client,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// Name は送信先名を返す。
func (w *WebhookNotifier) Name() string { return "webhook" }

// errPermanent は再試行しても成功しない応答を表す。
var errPermanent = errors.New("permanent webhook failure")

// Notify はイベントを送信する。最大試行回数を超えた場合は最後のエラーを返す。
func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.send(ctx, ev, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || attempt == w.maxAttempts {
			break
		}

		timer := time.NewTimer(Backoff(w.baseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("webhook送信が中断されました: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook送信に失敗しました: %w", lastErr)
}

func (w *WebhookNotifier) send(ctx context.Context, ev Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sailbook-notifier/1.0")
	req.Header.Set("Idempotency-Key", ev.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

// Backoff は attempt 回目の失敗後の待ち時間を返す（base, 2*base, 4*base, ...）。
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
