// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"unicode"

	"github.com/hitoshi/sailbook/internal/model"
)

// RequesterHeader は上流の認証層が設定する利用者IDのヘッダー名。
const RequesterHeader = "X-Requester-ID"

// maxRequesterIDLen は受け付ける利用者IDの最大バイト数。
const maxRequesterIDLen = 128

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// requesterIDContextKey はリクエストコンテキストに利用者IDを格納するためのキー。
var requesterIDContextKey = contextKey("requester_id")

// NewRequesterMiddleware は X-Requester-ID ヘッダーから利用者IDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーが無い、または不正な値の場合は401 Unauthorizedを返す。
func NewRequesterMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requesterID := r.Header.Get(RequesterHeader)
			if !validRequesterID(requesterID) {
				slog.Warn("missing or invalid requester id",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithRequesterID(r.Context(), requesterID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequesterID は空でなく、長すぎず、制御文字や空白を含まないIDのみ許可する。
func validRequesterID(id string) bool {
	if id == "" || len(id) > maxRequesterIDLen {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// RequesterIDFromContext はリクエストコンテキストから利用者IDを取得する。
// RequesterMiddlewareを通過していないリクエストでは ok=false を返す。
func RequesterIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requesterIDContextKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ContextWithRequesterID はコンテキストに利用者IDを注入する。
func ContextWithRequesterID(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, requesterIDContextKey, requesterID)
}
