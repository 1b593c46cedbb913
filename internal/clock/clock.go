// Package clock は現在時刻の取得を抽象化する。
package clock

import (
	"sync"
	"time"
)

// Clock はサービス層に時刻を注入するためのインターフェース。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem は time.Now を返す Clock を生成する。
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual はテスト用の手動で進める Clock。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual は指定時刻で停止した Manual を生成する。
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now は現在の設定時刻を返す。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance は時刻を d だけ進める。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set は時刻を t に設定する。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
