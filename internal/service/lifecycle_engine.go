package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/events"
	"github.com/H51976/roombox-fyp/internal/gateway"
	"github.com/H51976/roombox-fyp/internal/repository"
	"github.com/H51976/roombox-fyp/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineOptions lifecycle policy knobs
type EngineOptions struct {
	// AllowRejectApproved lets a landlord reject an approved booking whose tenancy has not started.
	AllowRejectApproved bool
	// ExpirePending enables ExpirePendingBookings.
	ExpirePending bool
	// SuccessURL / FailureURL gateway redirect targets; booking and payment ids are appended.
	SuccessURL string
	FailureURL string
}

// LifecycleEngine single writer of booking, tenancy, payment and room status.
// Every operation is one unit of work on the ledger store; rows are locked room, then
// booking, then payment. Events and the availability cache are updated only after commit.
type LifecycleEngine struct {
	store     repository.LedgerStore
	signer    *gateway.Signer
	publisher events.Publisher
	cache     *store.AvailabilityCache
	logger    *zap.Logger
	opts      EngineOptions
	now       func() time.Time
	newID     func() string
}

type EngineOption func(*LifecycleEngine)

func WithPublisher(p events.Publisher) EngineOption {
	return func(e *LifecycleEngine) { e.publisher = p }
}

func WithAvailabilityCache(c *store.AvailabilityCache) EngineOption {
	return func(e *LifecycleEngine) { e.cache = c }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *LifecycleEngine) { e.now = now }
}

func WithIDGenerator(newID func() string) EngineOption {
	return func(e *LifecycleEngine) { e.newID = newID }
}

func NewLifecycleEngine(ledger repository.LedgerStore, signer *gateway.Signer, logger *zap.Logger, opts EngineOptions, options ...EngineOption) *LifecycleEngine {
	e := &LifecycleEngine{
		store:     ledger,
		signer:    signer,
		publisher: events.NopPublisher{},
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// BookingRequest tenant input for RequestBooking
type BookingRequest struct {
	RoomID    string
	StartDate time.Time
	EndDate   *time.Time
	Message   string
}

// BookingPaymentResult RequestBooking output: the new booking, its booking payment and the signed form.
type BookingPaymentResult struct {
	Booking *domain.Booking `json:"booking"`
	Payment *domain.Payment `json:"payment"`
	Form    gateway.Form    `json:"form"`
}

// PaymentResult InitiateSupplementalPayment output
type PaymentResult struct {
	Payment *domain.Payment `json:"payment"`
	Form    gateway.Form    `json:"form"`
}

// LifecycleState composite state returned by transitions.
type LifecycleState struct {
	Booking *domain.Booking `json:"booking"`
	Room    *domain.Room    `json:"room"`
	Payment *domain.Payment `json:"payment,omitempty"`
	// Replayed the call changed nothing because it had already been applied.
	Replayed bool `json:"replayed,omitempty"`
}

// unitOfWork collects what must happen after a successful commit.
type unitOfWork struct {
	events []events.LifecycleEvent
	rooms  map[string]domain.Room
}

func (u *unitOfWork) emit(ev events.LifecycleEvent) {
	u.events = append(u.events, ev)
}

func (u *unitOfWork) touchRoom(room *domain.Room) {
	if u.rooms == nil {
		u.rooms = map[string]domain.Room{}
	}
	u.rooms[room.RoomID] = *room
}

// run executes fn as one unit of work and, once committed, publishes what it collected.
func (e *LifecycleEngine) run(ctx context.Context, op string, fn func(tx repository.LedgerTx, uow *unitOfWork) error) error {
	var uow *unitOfWork
	err := e.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		uow = &unitOfWork{}
		return fn(tx, uow)
	})
	if err != nil {
		return e.translate(op, err)
	}
	e.afterCommit(ctx, op, uow)
	return nil
}

func (e *LifecycleEngine) afterCommit(ctx context.Context, op string, uow *unitOfWork) {
	if uow == nil {
		return
	}
	if len(uow.events) > 0 {
		if err := e.publisher.Publish(ctx, uow.events...); err != nil {
			e.logger.Warn("Failed to publish lifecycle events",
				zap.String("operation", op),
				zap.Int("event_count", len(uow.events)),
				zap.Error(err),
			)
		}
	}
	if e.cache == nil {
		return
	}
	for roomID, room := range uow.rooms {
		stored, err := e.cache.PutRoom(ctx, &room)
		if err != nil {
			e.logger.Warn("Failed to refresh room availability cache",
				zap.String("room_id", roomID),
				zap.Error(err),
			)
			continue
		}
		if !stored {
			e.logger.Debug("Newer room status already cached",
				zap.String("room_id", roomID),
				zap.String("status", room.Status.String()),
			)
		}
	}
}

// translate keeps lifecycle errors as they are and wraps store failures.
func (e *LifecycleEngine) translate(op string, err error) error {
	var lerr *domain.LifecycleError
	if errors.As(err, &lerr) {
		return err
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.Conflict("%s: %v", op, err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFound("%s: %v", op, err)
	}
	e.logger.Error("Lifecycle operation failed", zap.String("operation", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

// lockAggregate loads and locks room then booking for bookingID.
func (e *LifecycleEngine) lockAggregate(ctx context.Context, tx repository.LedgerTx, roomID, bookingID string) (*domain.Room, *domain.Booking, error) {
	room, err := tx.LockRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NotFound("room %s not found", roomID)
		}
		return nil, nil, err
	}
	b, err := tx.GetBookingForUpdate(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NotFound("booking %s not found", bookingID)
		}
		return nil, nil, err
	}
	if b.RoomID != roomID {
		return nil, nil, domain.Conflict("booking %s moved to another room", bookingID)
	}
	return room, b, nil
}

// roomOfBooking unlocked lookup of the room id; needed to take the room lock first.
func (e *LifecycleEngine) roomOfBooking(ctx context.Context, bookingID string) (string, error) {
	if strings.TrimSpace(bookingID) == "" {
		return "", domain.InvalidArgument("booking id is required")
	}
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.NotFound("booking %s not found", bookingID)
		}
		return "", fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	return b.RoomID, nil
}

// RequestBooking tenant asks for a room and commits deposit + advance in one booking payment.
func (e *LifecycleEngine) RequestBooking(ctx context.Context, principal domain.Principal, req BookingRequest) (*BookingPaymentResult, error) {
	if !principal.IsTenant() {
		return nil, domain.Forbidden("only tenants can request bookings")
	}
	if strings.TrimSpace(req.RoomID) == "" {
		return nil, domain.InvalidArgument("room id is required")
	}
	if req.StartDate.IsZero() {
		return nil, domain.InvalidArgument("start date is required")
	}
	if req.EndDate != nil && req.EndDate.Before(req.StartDate) {
		return nil, domain.InvalidArgument("end date is before start date")
	}

	var result BookingPaymentResult
	err := e.run(ctx, "request booking", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, err := tx.LockRoom(ctx, req.RoomID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NotFound("room %s not found", req.RoomID)
			}
			return err
		}
		if room.OwnerID == principal.UserID {
			return domain.Forbidden("landlords cannot book their own room")
		}
		if room.Status != domain.RoomAvailable {
			return domain.Conflict("room %s is not available for booking (status: %s)", room.RoomID, room.Status)
		}
		if _, err := tx.FindOpenBooking(ctx, principal.UserID, room.RoomID); err == nil {
			return domain.Conflict("you already have a pending or approved booking for room %s", room.RoomID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		amount := room.BookingAmount()
		if !amount.IsPositive() {
			return domain.InvalidState("room %s has no security deposit or advance payment configured", room.RoomID)
		}

		tenancy := domain.TenancyPending
		b := &domain.Booking{
			BookingID:       e.newID(),
			TenantID:        principal.UserID,
			LandlordID:      room.OwnerID,
			RoomID:          room.RoomID,
			StartDate:       req.StartDate.UTC(),
			EndDate:         req.EndDate,
			MonthlyRent:     room.PricePerMonth,
			SecurityDeposit: room.SecurityDeposit,
			AdvancePayment:  room.AdvancePayment,
			Status:          domain.BookingPending,
			TenancyStatus:   &tenancy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if msg := strings.TrimSpace(req.Message); msg != "" {
			b.TenantMessage = &msg
		}
		p := &domain.Payment{
			PaymentID:       e.newID(),
			BookingID:       b.BookingID,
			TenantID:        b.TenantID,
			LandlordID:      b.LandlordID,
			Amount:          amount,
			PaymentType:     domain.PaymentTypeBooking,
			TransactionUUID: e.newID(),
			Status:          domain.PaymentPending,
			CreatedAt:       now,
		}

		if err := room.Reserve(now); err != nil {
			return err
		}
		if err := tx.UpdateRoom(ctx, room); err != nil {
			return err
		}
		if err := tx.CreateBooking(ctx, b); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Conflict("you already have a pending or approved booking for room %s", room.RoomID)
			}
			return err
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}

		uow.touchRoom(room)
		uow.emit(events.Snapshot(events.BookingRequested, b, room, nil, now))
		uow.emit(events.Snapshot(events.PaymentInitiated, b, room, p, now))
		result.Booking, result.Payment = b, p
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Form = e.buildForm(result.Payment)
	e.logger.Info("Booking requested",
		zap.String("booking_id", result.Booking.BookingID),
		zap.String("room_id", result.Booking.RoomID),
		zap.String("tenant_id", result.Booking.TenantID),
		zap.String("transaction_uuid", result.Payment.TransactionUUID),
		zap.String("amount", result.Payment.Amount.String()),
	)
	return &result, nil
}

// ApproveBooking landlord accepts a pending booking. If a funding payment has already been
// completed the tenancy starts immediately.
func (e *LifecycleEngine) ApproveBooking(ctx context.Context, principal domain.Principal, bookingID string) (*LifecycleState, error) {
	roomID, err := e.roomOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, "approve booking", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, bookingID)
		if err != nil {
			return err
		}
		if room.OwnerID != principal.UserID || b.LandlordID != principal.UserID {
			return domain.Forbidden("only the landlord of room %s can approve this booking", room.RoomID)
		}
		if err := b.Approve(now); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.BookingApproved, b, room, nil, now))

		funded, err := hasCompletedFunding(ctx, tx, b.BookingID)
		if err != nil {
			return err
		}
		if funded {
			if err := e.activate(ctx, tx, uow, room, b, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		state = LifecycleState{Booking: b, Room: room}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Booking approved",
		zap.String("booking_id", bookingID),
		zap.String("tenancy_status", state.Booking.Tenancy().String()),
		zap.String("room_status", state.Room.Status.String()),
	)
	return &state, nil
}

// RejectBooking landlord declines; the reservation taken at request time is released.
func (e *LifecycleEngine) RejectBooking(ctx context.Context, principal domain.Principal, bookingID, reason string) (*LifecycleState, error) {
	roomID, err := e.roomOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, "reject booking", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, bookingID)
		if err != nil {
			return err
		}
		if b.LandlordID != principal.UserID {
			return domain.Forbidden("only the landlord of this booking can reject it")
		}
		if err := b.Reject(strings.TrimSpace(reason), e.opts.AllowRejectApproved, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := e.release(ctx, tx, uow, room, now); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.BookingRejected, b, room, nil, now))
		state = LifecycleState{Booking: b, Room: room}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Booking rejected", zap.String("booking_id", bookingID), zap.String("room_status", state.Room.Status.String()))
	return &state, nil
}

// CancelBooking either party withdraws a booking whose tenancy has not started.
func (e *LifecycleEngine) CancelBooking(ctx context.Context, principal domain.Principal, bookingID, reason string) (*LifecycleState, error) {
	roomID, err := e.roomOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, "cancel booking", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, bookingID)
		if err != nil {
			return err
		}
		if !b.IsParty(principal.UserID) {
			return domain.Forbidden("only the tenant or landlord of this booking can cancel it")
		}
		if err := b.Cancel(strings.TrimSpace(reason), now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := e.release(ctx, tx, uow, room, now); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.BookingCancelled, b, room, nil, now))
		state = LifecycleState{Booking: b, Room: room}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Booking cancelled", zap.String("booking_id", bookingID), zap.String("by", principal.UserID))
	return &state, nil
}

// TerminateTenancy either party ends an active tenancy early.
func (e *LifecycleEngine) TerminateTenancy(ctx context.Context, principal domain.Principal, bookingID, reason string) (*LifecycleState, error) {
	return e.endTenancy(ctx, principal, bookingID, "terminate tenancy", func(b *domain.Booking, now time.Time) error {
		if !b.IsParty(principal.UserID) {
			return domain.Forbidden("only the tenant or landlord of this booking can terminate the tenancy")
		}
		return b.TerminateTenancy(strings.TrimSpace(reason), now)
	}, events.TenancyTerminated)
}

// CompleteTenancy landlord closes an active tenancy at its normal end.
func (e *LifecycleEngine) CompleteTenancy(ctx context.Context, principal domain.Principal, bookingID string) (*LifecycleState, error) {
	return e.endTenancy(ctx, principal, bookingID, "complete tenancy", func(b *domain.Booking, now time.Time) error {
		if b.LandlordID != principal.UserID {
			return domain.Forbidden("only the landlord of this booking can complete the tenancy")
		}
		return b.CompleteTenancy(now)
	}, events.TenancyCompleted)
}

func (e *LifecycleEngine) endTenancy(ctx context.Context, principal domain.Principal, bookingID, op string, apply func(*domain.Booking, time.Time) error, evType events.Type) (*LifecycleState, error) {
	roomID, err := e.roomOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, op, func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, bookingID)
		if err != nil {
			return err
		}
		if err := apply(b, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := e.release(ctx, tx, uow, room, now); err != nil {
			return err
		}
		uow.emit(events.Snapshot(evType, b, room, nil, now))
		state = LifecycleState{Booking: b, Room: room}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Tenancy ended",
		zap.String("booking_id", bookingID),
		zap.String("tenancy_status", state.Booking.Tenancy().String()),
		zap.String("by", principal.UserID),
	)
	return &state, nil
}

// InitiateSupplementalPayment tenant starts a rent, security deposit or advance payment on an
// approved booking. Amounts come from the booking snapshot. month defaults to the current
// month for rent.
func (e *LifecycleEngine) InitiateSupplementalPayment(ctx context.Context, principal domain.Principal, bookingID string, paymentType string, month string) (*PaymentResult, error) {
	pt, err := domain.ParsePaymentType(paymentType)
	if err != nil || !pt.IsSupplemental() {
		return nil, domain.InvalidArgument("invalid payment type %q; expected rent, security_deposit or advance", paymentType)
	}
	month = strings.TrimSpace(month)
	if month != "" && !domain.ValidPaymentMonth(month) {
		return nil, domain.InvalidArgument("invalid payment month %q; expected YYYY-MM", month)
	}
	roomID, err := e.roomOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var result PaymentResult
	err = e.run(ctx, "initiate payment", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, bookingID)
		if err != nil {
			return err
		}
		if b.TenantID != principal.UserID {
			return domain.Forbidden("only the tenant of this booking can pay for it")
		}
		if b.Status != domain.BookingApproved {
			return domain.InvalidState("booking must be approved before payment (status: %s)", b.Status)
		}
		amount, _ := b.AmountFor(pt)
		if !amount.IsPositive() {
			return domain.InvalidArgument("booking %s has no %s amount to pay", b.BookingID, pt)
		}

		var paymentMonth *string
		if pt == domain.PaymentTypeRent {
			if month == "" {
				month = now.Format("2006-01")
			}
			paid, err := hasCompletedRent(ctx, tx, b.BookingID, month)
			if err != nil {
				return err
			}
			if paid {
				return domain.Conflict("rent for %s is already paid", month)
			}
		}
		if month != "" {
			m := month
			paymentMonth = &m
		}

		p := &domain.Payment{
			PaymentID:       e.newID(),
			BookingID:       b.BookingID,
			TenantID:        b.TenantID,
			LandlordID:      b.LandlordID,
			Amount:          amount,
			PaymentType:     pt,
			PaymentMonth:    paymentMonth,
			TransactionUUID: e.newID(),
			Status:          domain.PaymentPending,
			CreatedAt:       now,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.PaymentInitiated, b, room, p, now))
		result.Payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Form = e.buildForm(result.Payment)
	e.logger.Info("Payment initiated",
		zap.String("booking_id", bookingID),
		zap.String("payment_type", pt.String()),
		zap.String("transaction_uuid", result.Payment.TransactionUUID),
	)
	return &result, nil
}

// VerifyPayment applies a gateway callback. The signature is recomputed from the stored
// amount; a payment that is already completed is returned unchanged.
func (e *LifecycleEngine) VerifyPayment(ctx context.Context, transactionUUID, refID, signature string) (*LifecycleState, error) {
	transactionUUID = strings.TrimSpace(transactionUUID)
	if transactionUUID == "" {
		return nil, domain.InvalidArgument("transaction_uuid is required")
	}
	p, err := e.store.GetPaymentByTransaction(ctx, transactionUUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("payment %s not found", transactionUUID)
		}
		return nil, fmt.Errorf("load payment %s: %w", transactionUUID, err)
	}
	roomID, err := e.roomOfBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, "verify payment", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, p.BookingID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByTransactionForUpdate(ctx, transactionUUID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NotFound("payment %s not found", transactionUUID)
			}
			return err
		}
		state = LifecycleState{Booking: b, Room: room, Payment: payment}

		if !e.signer.VerifyPayment(signature, payment.Amount, payment.TransactionUUID) {
			return domain.InvalidSignature("signature does not match payment %s", transactionUUID)
		}
		changed, err := payment.Complete(refID, signature, now)
		if err != nil {
			return err
		}
		if !changed {
			state.Replayed = true
			return nil
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Conflict("rent for %s is already paid", derefOr(payment.PaymentMonth, "this month"))
			}
			return err
		}
		uow.emit(events.Snapshot(events.PaymentCompleted, b, room, payment, now))

		switch {
		case b.Status.IsTerminal():
			e.logger.Warn("Payment completed on a closed booking; refund required",
				zap.String("transaction_uuid", transactionUUID),
				zap.String("booking_id", b.BookingID),
				zap.String("booking_status", b.Status.String()),
			)
		case payment.PaymentType.FundsOccupancy() && b.Status == domain.BookingApproved:
			if err := e.activate(ctx, tx, uow, room, b, now); err != nil {
				return err
			}
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindInvalidSignature {
			e.logger.Warn("Payment signature rejected", zap.String("transaction_uuid", transactionUUID))
		}
		return nil, err
	}
	e.logger.Info("Payment verified",
		zap.String("transaction_uuid", transactionUUID),
		zap.Bool("replayed", state.Replayed),
		zap.String("booking_status", state.Booking.Status.String()),
		zap.String("room_status", state.Room.Status.String()),
	)
	return &state, nil
}

// FailPayment marks a pending payment failed. A failed booking payment on a pending booking
// cancels the booking and releases the room. Called by reconciliation only.
func (e *LifecycleEngine) FailPayment(ctx context.Context, transactionUUID, reason string) (*LifecycleState, error) {
	p, err := e.store.GetPaymentByTransaction(ctx, transactionUUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("payment %s not found", transactionUUID)
		}
		return nil, fmt.Errorf("load payment %s: %w", transactionUUID, err)
	}
	roomID, err := e.roomOfBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}

	var state LifecycleState
	err = e.run(ctx, "fail payment", func(tx repository.LedgerTx, uow *unitOfWork) error {
		now := e.now().UTC()
		room, b, err := e.lockAggregate(ctx, tx, roomID, p.BookingID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByTransactionForUpdate(ctx, transactionUUID)
		if err != nil {
			return err
		}
		state = LifecycleState{Booking: b, Room: room, Payment: payment}

		changed, err := payment.Fail(reason)
		if err != nil {
			return err
		}
		if !changed {
			state.Replayed = true
			return nil
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.PaymentFailed, b, room, payment, now))

		if payment.PaymentType == domain.PaymentTypeBooking && b.Status == domain.BookingPending {
			if err := e.cancelUnfunded(ctx, tx, uow, room, b, reason, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Payment failed",
		zap.String("transaction_uuid", transactionUUID),
		zap.String("reason", reason),
		zap.String("booking_status", state.Booking.Status.String()),
	)
	return &state, nil
}

// ExpirePendingBookings cancels pending bookings created before now-olderThan that have no
// completed payment. Each booking is its own unit of work.
func (e *LifecycleEngine) ExpirePendingBookings(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if !e.opts.ExpirePending {
		return 0, domain.InvalidState("pending booking expiry is disabled")
	}
	if olderThan <= 0 {
		return 0, domain.InvalidArgument("expiry age must be positive")
	}
	stale, err := e.store.ListStalePendingBookings(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale bookings: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		reason := fmt.Sprintf("Booking expired: no payment within %s", olderThan)
		applied := false
		err := e.run(ctx, "expire booking", func(tx repository.LedgerTx, uow *unitOfWork) error {
			applied = false
			now := e.now().UTC()
			room, b, err := e.lockAggregate(ctx, tx, candidate.RoomID, candidate.BookingID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingPending {
				return nil
			}
			if funded, err := hasCompletedPayment(ctx, tx, b.BookingID); err != nil || funded {
				return err
			}
			if err := e.cancelUnfunded(ctx, tx, uow, room, b, reason, now); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			e.logger.Warn("Failed to expire booking", zap.String("booking_id", candidate.BookingID), zap.Error(err))
			continue
		}
		if applied {
			expired++
		}
	}
	e.logger.Info("Pending booking expiry finished", zap.Int("candidates", len(stale)), zap.Int("expired", expired))
	return expired, nil
}

// cancelUnfunded fails the booking's remaining pending payments, cancels it and frees the room.
func (e *LifecycleEngine) cancelUnfunded(ctx context.Context, tx repository.LedgerTx, uow *unitOfWork, room *domain.Room, b *domain.Booking, reason string, now time.Time) error {
	payments, err := tx.ListPaymentsByBooking(ctx, b.BookingID)
	if err != nil {
		return err
	}
	for _, other := range payments {
		if other.Status != domain.PaymentPending {
			continue
		}
		if _, err := other.Fail(reason); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, other); err != nil {
			return err
		}
		uow.emit(events.Snapshot(events.PaymentFailed, b, room, other, now))
	}
	if err := b.Cancel(reason, now); err != nil {
		return err
	}
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}
	if err := e.release(ctx, tx, uow, room, now); err != nil {
		return err
	}
	uow.emit(events.Snapshot(events.BookingCancelled, b, room, nil, now))
	return nil
}

func (e *LifecycleEngine) activate(ctx context.Context, tx repository.LedgerTx, uow *unitOfWork, room *domain.Room, b *domain.Booking, now time.Time) error {
	if !b.ActivateTenancy(now) {
		return nil
	}
	if err := room.Occupy(now); err != nil {
		return err
	}
	if err := tx.UpdateRoom(ctx, room); err != nil {
		return err
	}
	uow.touchRoom(room)
	uow.emit(events.Snapshot(events.TenancyActivated, b, room, nil, now))
	return nil
}

func (e *LifecycleEngine) release(ctx context.Context, tx repository.LedgerTx, uow *unitOfWork, room *domain.Room, now time.Time) error {
	if !room.Release(now) {
		return nil
	}
	if err := tx.UpdateRoom(ctx, room); err != nil {
		return err
	}
	uow.touchRoom(room)
	return nil
}

func (e *LifecycleEngine) buildForm(p *domain.Payment) gateway.Form {
	return e.signer.BuildPaymentRequest(p.Amount, p.TransactionUUID,
		redirectURL(e.opts.SuccessURL, p), redirectURL(e.opts.FailureURL, p))
}

// redirectURL appends payment and booking ids so the browser page can show the right record.
func redirectURL(base string, p *domain.Payment) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("payment_id", p.PaymentID)
	q.Set("booking_id", p.BookingID)
	u.RawQuery = q.Encode()
	return u.String()
}

func hasCompletedFunding(ctx context.Context, tx repository.LedgerTx, bookingID string) (bool, error) {
	payments, err := tx.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Status == domain.PaymentCompleted && p.PaymentType.FundsOccupancy() {
			return true, nil
		}
	}
	return false, nil
}

func hasCompletedPayment(ctx context.Context, tx repository.LedgerTx, bookingID string) (bool, error) {
	payments, err := tx.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Status == domain.PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

func hasCompletedRent(ctx context.Context, tx repository.LedgerTx, bookingID, month string) (bool, error) {
	payments, err := tx.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.PaymentType == domain.PaymentTypeRent && p.Status == domain.PaymentCompleted &&
			p.PaymentMonth != nil && *p.PaymentMonth == month {
			return true, nil
		}
	}
	return false, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
