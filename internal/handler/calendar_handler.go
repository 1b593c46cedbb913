package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/sailbook/internal/calendar"
	"github.com/hitoshi/sailbook/internal/model"
)

// CalendarServiceInterface はカレンダー・年間予定ハンドラーが必要とするサービスインターフェース。
type CalendarServiceInterface interface {
	QueryCalendar(ctx context.Context, window model.Interval) ([]model.Interval, error)
	Planning(ctx context.Context, year int) ([]model.Reservation, error)
}

// CalendarHandler は空き状況と年間予定のHTTPハンドラー。認証は不要。
type CalendarHandler struct {
	service CalendarServiceInterface
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(service CalendarServiceInterface) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// slotResponse は半開区間 [start, end) の日付範囲。
type slotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// planningEntryResponse は年間予定の1件。
type planningEntryResponse struct {
	ID          string `json:"reservation_id"`
	RequesterID string `json:"requester_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
}

// planningResponse は年間予定のレスポンス。busy は重なり・隣接をまとめた占有期間。
type planningResponse struct {
	Year    int                     `json:"year"`
	Entries []planningEntryResponse `json:"entries"`
	Busy    []slotResponse          `json:"busy"`
}

// FreeSlots は指定期間内の予約可能な期間を返す。
// GET /api/calendar?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *CalendarHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := model.ParseInterval(q.Get("start"), q.Get("end"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	free, err := h.service.QueryCalendar(r.Context(), window)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(free))
}

// Planning は指定年の予約済み期間を返す。
// GET /api/planning/{year}
func (h *CalendarHandler) Planning(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		handleServiceError(w, r, model.NewInvalidYearError(raw))
		return
	}

	entries, err := h.service.Planning(r.Context(), year)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := planningResponse{
		Year:    year,
		Entries: make([]planningEntryResponse, len(entries)),
		Busy:    toSlotResponses(calendar.BusySlots(model.YearInterval(year), entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = planningEntryResponse{
			ID:          e.ID,
			RequesterID: e.RequesterID,
			StartDate:   e.Interval.Start.Format(model.DateLayout),
			EndDate:     e.Interval.End.Format(model.DateLayout),
			Status:      string(e.Status),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSlotResponses(slots []model.Interval) []slotResponse {
	out := make([]slotResponse, len(slots))
	for i, s := range slots {
		out[i] = slotResponse{
			Start: s.Start.Format(model.DateLayout),
			End:   s.End.Format(model.DateLayout),
		}
	}
	return out
}
