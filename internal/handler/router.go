package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/sailbook/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 予約
	ReservationService ReservationServiceInterface
	CalendarService    CalendarServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General) → Requester（/api/reservations のみ）
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	reservationHandler := NewReservationHandler(deps.ReservationService)
	calendarHandler := NewCalendarHandler(deps.CalendarService)

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 認証不要のルート ---
		r.Get("/calendar", calendarHandler.FreeSlots)
		r.Get("/planning/{year}", calendarHandler.Planning)

		// --- 利用者IDが必要なルート ---
		r.Route("/reservations", func(r chi.Router) {
			r.Use(middleware.NewRequesterMiddleware())

			// 作成・取消には予約専用レート制限を追加
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/", reservationHandler.Create)
			r.Get("/", reservationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", reservationHandler.Get)
				r.With(deps.RateLimiter.BookingMiddleware()).Post("/cancel", reservationHandler.Cancel)
			})
		})
	})

	return r
}
