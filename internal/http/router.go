package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Router http.ServeMux with method+path patterns
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// RegisterHealthRoutes GET /health
func (r *Router) RegisterHealthRoutes() {
	r.Handle("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterBookingRoutes booking lifecycle and reporting endpoints
func (r *Router) RegisterBookingRoutes(h *BookingHandler) {
	r.Handle("POST /api/v1/bookings/request", h.RequestBooking)
	for _, action := range []string{"approve", "reject", "cancel", "terminate", "complete"} {
		r.Handle("PATCH /api/v1/bookings/{id}/"+action, h.Transition(action))
	}
	r.Handle("POST /api/v1/bookings/{id}/payment/initiate", h.InitiatePayment)
	r.Handle("POST /api/v1/bookings/payment/verify", h.VerifyPayment)

	r.Handle("GET /api/v1/bookings/my-bookings", h.MyBookings)
	r.Handle("GET /api/v1/bookings/landlord/income", h.LandlordIncome)
	r.Handle("GET /api/v1/bookings/landlord/income/export", h.ExportLandlordIncome)
	r.Handle("GET /api/v1/bookings/tenant/transactions", h.TenantTransactions)
	r.Handle("GET /api/v1/bookings/tenant/upcoming-payments", h.UpcomingPayments)

	r.Handle("GET /api/v1/rooms/{id}/availability", h.RoomAvailability)
}
