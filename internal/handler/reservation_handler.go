package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/sailbook/internal/booking"
	"github.com/hitoshi/sailbook/internal/middleware"
	"github.com/hitoshi/sailbook/internal/model"
)

// ReservationServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type ReservationServiceInterface interface {
	Create(ctx context.Context, in booking.CreateInput) (*model.Reservation, error)
	Cancel(ctx context.Context, id, requesterID string) (*model.Reservation, error)
	Get(ctx context.Context, id, requesterID string) (*model.Reservation, error)
	ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)
}

// ReservationHandler は予約管理のHTTPハンドラー。
type ReservationHandler struct {
	service ReservationServiceInterface
}

// NewReservationHandler はReservationHandlerを生成する。
func NewReservationHandler(service ReservationServiceInterface) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// createReservationRequest は予約作成リクエストのボディ。
type createReservationRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Note      string `json:"note"`
}

// reservationResponse は予約情報のAPIレスポンス。
type reservationResponse struct {
	ID          string    `json:"reservation_id"`
	RequesterID string    `json:"requester_id"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Nights      int       `json:"nights"`
	Status      string    `json:"status"`
	Note        string    `json:"note,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Create は予約作成を処理する。
// POST /api/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.RequesterIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	end, err := model.ParseDate(req.EndDate)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := h.service.Create(r.Context(), booking.CreateInput{
		RequesterID: requesterID,
		Start:       start,
		End:         end,
		Note:        req.Note,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/reservations/"+res.ID)
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

// List は利用者自身の予約一覧を返す。
// GET /api/reservations
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	requesterID, _ := middleware.RequesterIDFromContext(r.Context())

	list, err := h.service.ListByRequester(r.Context(), requesterID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	out := make([]reservationResponse, len(list))
	for i := range list {
		out[i] = toReservationResponse(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// Get は予約詳細を返す。
// GET /api/reservations/{id}
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	requesterID, _ := middleware.RequesterIDFromContext(r.Context())

	res, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), requesterID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// Cancel は予約を取り消す。
// POST /api/reservations/{id}/cancel
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requesterID, _ := middleware.RequesterIDFromContext(r.Context())

	res, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), requesterID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		StartDate:   r.Interval.Start.Format(model.DateLayout),
		EndDate:     r.Interval.End.Format(model.DateLayout),
		Nights:      r.Interval.Nights(),
		Status:      string(r.Status),
		Note:        r.Note,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
