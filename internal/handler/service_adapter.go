package handler

import "github.com/hitoshi/sailbook/internal/booking"

// compile-time interface check
var (
	_ ReservationServiceInterface = (*booking.Service)(nil)
	_ CalendarServiceInterface    = (*booking.Service)(nil)
)
