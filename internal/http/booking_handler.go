package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/service"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// BookingHandler booking, payment and tenancy endpoints
type BookingHandler struct {
	engine   *service.LifecycleEngine
	queries  *service.QueryService
	auth     *Authenticator
	validate *validator.Validate
	logger   *zap.Logger
}

func NewBookingHandler(engine *service.LifecycleEngine, queries *service.QueryService, auth *Authenticator, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{
		engine:   engine,
		queries:  queries,
		auth:     auth,
		validate: validator.New(),
		logger:   logger,
	}
}

type bookingRequestBody struct {
	RoomID    string `json:"room_id" validate:"required,max=64"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date"`
	Message   string `json:"message" validate:"max=2000"`
}

type reasonBody struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type initiatePaymentBody struct {
	PaymentType  string `json:"payment_type" validate:"required"`
	PaymentMonth string `json:"payment_month" validate:"omitempty,len=7"`
}

// principal resolves the caller or writes 401.
func (h *BookingHandler) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, err := h.auth.Principal(r)
	if err != nil {
		h.logger.Debug("Unauthenticated request", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, Fail(ErrUnauthenticated.Error()))
		return domain.Principal{}, false
	}
	return p, true
}

// decode reads and validates a JSON body; false means a 400 was written.
func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := readBodyJSON(r, maxBodyBytes, out); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("%s: failed %s validation", strings.ToLower(verrs[0].Field()), verrs[0].Tag())))
			return false
		}
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return false
	}
	return true
}

// RequestBooking POST /api/v1/bookings/request
func (h *BookingHandler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body bookingRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	start, err := parseDate(body.StartDate)
	if err != nil || start == nil {
		writeJSON(w, http.StatusBadRequest, Fail("start_date must be YYYY-MM-DD"))
		return
	}
	end, err := parseDate(body.EndDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("end_date must be YYYY-MM-DD"))
		return
	}

	res, err := h.engine.RequestBooking(r.Context(), p, service.BookingRequest{
		RoomID:    body.RoomID,
		StartDate: *start,
		EndDate:   end,
		Message:   body.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OkMessage("Booking requested. Complete the payment to confirm.", map[string]any{
		"booking":          res.Booking,
		"payment_id":       res.Payment.PaymentID,
		"transaction_uuid": res.Payment.TransactionUUID,
		"amount":           res.Payment.Amount,
		"form_url":         res.Form.URL,
		"form_data":        res.Form.Fields,
	}))
}

// Transition PATCH /api/v1/bookings/{id}/{action}
func (h *BookingHandler) Transition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.principal(w, r)
		if !ok {
			return
		}
		id := r.PathValue("id")
		var body reasonBody
		if action != "approve" && action != "complete" {
			if !h.decode(w, r, &body) {
				return
			}
		}

		state, err := h.transition(r.Context(), action, p, id, body.Reason)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, OkMessage(transitionMessages[action], state))
	}
}

var transitionMessages = map[string]string{
	"approve":   "Booking approved",
	"reject":    "Booking rejected",
	"cancel":    "Booking cancelled",
	"terminate": "Tenancy terminated",
	"complete":  "Tenancy completed",
}

func (h *BookingHandler) transition(ctx context.Context, action string, p domain.Principal, id, reason string) (*service.LifecycleState, error) {
	switch action {
	case "approve":
		return h.engine.ApproveBooking(ctx, p, id)
	case "reject":
		return h.engine.RejectBooking(ctx, p, id, reason)
	case "cancel":
		return h.engine.CancelBooking(ctx, p, id, reason)
	case "terminate":
		return h.engine.TerminateTenancy(ctx, p, id, reason)
	case "complete":
		return h.engine.CompleteTenancy(ctx, p, id)
	}
	return nil, domain.InvalidArgument("unknown action %q", action)
}

// InitiatePayment POST /api/v1/bookings/{id}/payment/initiate
func (h *BookingHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body initiatePaymentBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.engine.InitiateSupplementalPayment(r.Context(), p, r.PathValue("id"), body.PaymentType, body.PaymentMonth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OkMessage("Payment initiated successfully", map[string]any{
		"payment_id":       res.Payment.PaymentID,
		"transaction_uuid": res.Payment.TransactionUUID,
		"payment_type":     res.Payment.PaymentType,
		"amount":           res.Payment.Amount,
		"form_url":         res.Form.URL,
		"form_data":        res.Form.Fields,
	}))
}

// VerifyPayment POST /api/v1/bookings/payment/verify?transaction_uuid=&ref_id=&signature=
// Called from the gateway success redirect; the signature authenticates it.
func (h *BookingHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txn, refID, sig := q.Get("transaction_uuid"), q.Get("ref_id"), q.Get("signature")
	if txn == "" || refID == "" || sig == "" {
		writeJSON(w, http.StatusBadRequest, Fail("transaction_uuid, ref_id and signature are required"))
		return
	}
	state, err := h.engine.VerifyPayment(r.Context(), txn, refID, sig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "Payment verified successfully"
	if state.Replayed {
		msg = "Payment already verified"
	}
	writeJSON(w, http.StatusOK, OkMessage(msg, state))
}

// MyBookings GET /api/v1/bookings/my-bookings
func (h *BookingHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	views, err := h.queries.MyBookings(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// LandlordIncome GET /api/v1/bookings/landlord/income?from=&to=
func (h *BookingHandler) LandlordIncome(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	from, to, ok := incomeRange(w, r)
	if !ok {
		return
	}
	report, err := h.queries.LandlordIncome(r.Context(), p, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// ExportLandlordIncome GET /api/v1/bookings/landlord/income/export?from=&to=
func (h *BookingHandler) ExportLandlordIncome(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	from, to, ok := incomeRange(w, r)
	if !ok {
		return
	}
	data, err := h.queries.ExportLandlordIncome(r.Context(), p, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=landlord-income.xlsx")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("Failed to write income export",
			zap.String("landlord_id", p.UserID),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
	}
}

// TenantTransactions GET /api/v1/bookings/tenant/transactions
func (h *BookingHandler) TenantTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	history, err := h.queries.TenantTransactions(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(history))
}

// UpcomingPayments GET /api/v1/bookings/tenant/upcoming-payments
func (h *BookingHandler) UpcomingPayments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	upcoming, err := h.queries.UpcomingPayments(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(upcoming))
}

// RoomAvailability GET /api/v1/rooms/{id}/availability
func (h *BookingHandler) RoomAvailability(w http.ResponseWriter, r *http.Request) {
	got, err := h.queries.RoomAvailability(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(got))
}

func incomeRange(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("from must be YYYY-MM-DD"))
		return nil, nil, false
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("to must be YYYY-MM-DD"))
		return nil, nil, false
	}
	return from, to, true
}

// StatusForError lifecycle error kind -> HTTP status
func StatusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidTransition, domain.KindInvalidState:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidArgument, domain.KindInvalidSignature:
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, Fail("internal error"))
		return
	}
	h.logger.Info("Request rejected",
		zap.String("path", r.URL.Path),
		zap.String("kind", string(domain.KindOf(err))),
		zap.String("error", err.Error()),
	)
	writeJSON(w, status, Fail(err.Error()))
}
