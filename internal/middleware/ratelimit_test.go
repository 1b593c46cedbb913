package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(requesterID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if requesterID != "" {
		req.Header.Set(RequesterHeader, requesterID)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *http.Response {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

func testLimiterConfig(generalBurst, bookingBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: generalBurst,
		BookingRate:  rate.Limit(10.0 / 60.0),
		BookingBurst: bookingBurst,
	}
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		if resp := serve(handler, requestAs("user-1")); resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	serve(handler, requestAs("user-retry"))
	resp := serve(handler, requestAs("user-retry"))

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("429 response should be JSON: %v", err)
	}
	if body.Code != "RATE_LIMITED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	if resp := serve(handler, requestAs("user-A")); resp.StatusCode != http.StatusOK {
		t.Errorf("user-A first: status = %d", resp.StatusCode)
	}
	if resp := serve(handler, requestAs("user-A")); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("user-A second: status = %d, want 429", resp.StatusCode)
	}
	if resp := serve(handler, requestAs("user-B")); resp.StatusCode != http.StatusOK {
		t.Errorf("user-B first: status = %d, want 200", resp.StatusCode)
	}
	if resp := serve(handler, requestAs("")); resp.StatusCode != http.StatusOK {
		t.Errorf("anonymous first: status = %d, want 200", resp.StatusCode)
	}
	if got := rl.GeneralLimiterCount(); got != 3 {
		t.Errorf("GeneralLimiterCount() = %d, want 3", got)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := clientKey(req); got != "ip:192.0.2.10" {
		t.Errorf("clientKey() = %q, want ip:192.0.2.10", got)
	}

	req.Header.Set(RequesterHeader, "alice")
	if got := clientKey(req); got != "requester:alice" {
		t.Errorf("clientKey() = %q, want requester:alice", got)
	}

	req = req.WithContext(ContextWithRequesterID(req.Context(), "bob"))
	if got := clientKey(req); got != "requester:bob" {
		t.Errorf("clientKey() = %q, want requester:bob", got)
	}
}

func TestBookingRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 2))
	defer rl.Stop()

	booking := rl.BookingMiddleware()(okHandler())
	general := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		if resp := serve(booking, requestAs("user-book")); resp.StatusCode != http.StatusOK {
			t.Errorf("booking request %d: status = %d", i, resp.StatusCode)
		}
	}
	if resp := serve(booking, requestAs("user-book")); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third booking request: status = %d, want 429", resp.StatusCode)
	}
	if resp := serve(general, requestAs("user-book")); resp.StatusCode != http.StatusOK {
		t.Errorf("general request after booking limit: status = %d, want 200", resp.StatusCode)
	}
	// 予約のレートは 10/60 req/sec なので Retry-After は6秒
	resp := serve(booking, requestAs("user-book"))
	if got := resp.Header.Get("Retry-After"); got != "6" {
		t.Errorf("Retry-After = %q, want 6", got)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testLimiterConfig(5, 5)
	cfg.CleanupInterval = time.Minute
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	serve(rl.GeneralMiddleware()(okHandler()), requestAs("stale"))
	serve(rl.BookingMiddleware()(okHandler()), requestAs("stale"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.BookingLimiterCount() != 1 {
		t.Fatal("fresh entries should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.BookingLimiterCount() != 0 {
		t.Errorf("expired entries remain: general=%d booking=%d", rl.GeneralLimiterCount(), rl.BookingLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != rate.Limit(2) {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.BookingBurst != 10 {
		t.Errorf("BookingBurst = %d, want 10", cfg.BookingBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

// TestMiddlewareChain_WithChiRouter はCORS・レート制限・利用者認証のチェーンが
// chi.Routerで正しく動作することを検証する。
func TestMiddlewareChain_WithChiRouter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(10, 1))
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(NewCORSMiddleware("https://app.example.com"))
	r.Use(rl.GeneralMiddleware())
	r.Get("/api/calendar", okHandler().ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewRequesterMiddleware())
		r.With(rl.BookingMiddleware()).Post("/api/reservations", func(w http.ResponseWriter, req *http.Request) {
			id, _ := RequesterIDFromContext(req.Context())
			w.Header().Set("X-Seen-Requester", id)
			w.WriteHeader(http.StatusCreated)
		})
	})

	if resp := serve(r, httptest.NewRequest(http.MethodGet, "/api/calendar", nil)); resp.StatusCode != http.StatusOK {
		t.Errorf("public route: status = %d, want 200", resp.StatusCode)
	}

	if resp := serve(r, httptest.NewRequest(http.MethodPost, "/api/reservations", nil)); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing requester: status = %d, want 401", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", nil)
	req.Header.Set(RequesterHeader, "alice")
	resp := serve(r, req)
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("X-Seen-Requester") != "alice" {
		t.Errorf("authenticated POST: status = %d, requester = %q", resp.StatusCode, resp.Header.Get("X-Seen-Requester"))
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("CORS header missing on routed response")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/reservations", nil)
	req.Header.Set(RequesterHeader, "alice")
	if resp := serve(r, req); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second booking: status = %d, want 429", resp.StatusCode)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/api/reservations", nil)
	if resp := serve(r, preflight); resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", resp.StatusCode)
	}
}
