package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/events"
	"github.com/H51976/roombox-fyp/internal/gateway"
	"github.com/H51976/roombox-fyp/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	tenant   = domain.Principal{UserID: "tenant-1", Role: domain.RoleTenant}
	tenant2  = domain.Principal{UserID: "tenant-2", Role: domain.RoleTenant}
	landlord = domain.Principal{UserID: "landlord-1", Role: domain.RoleLandlord}
	stranger = domain.Principal{UserID: "landlord-2", Role: domain.RoleLandlord}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	ledger    *repository.MemoryLedger
	signer    *gateway.Signer
	publisher *recordingPublisher
	engine    *LifecycleEngine
	clock     time.Time
}

func newFixture(t *testing.T, opts EngineOptions) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		ledger:    repository.NewMemoryLedger(),
		signer:    gateway.NewSigner(gateway.Config{}),
		publisher: &recordingPublisher{},
		clock:     time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	if opts.SuccessURL == "" {
		opts.SuccessURL = "https://roombox.example/payment/success"
	}
	f.engine = NewLifecycleEngine(f.ledger, f.signer, zap.NewNop(), opts,
		WithPublisher(f.publisher),
		WithClock(func() time.Time { return f.clock }),
	)
	f.addRoom(t, "room-1", 12000, 5000, 3000)
	return f
}

func (f *fixture) addRoom(t *testing.T, id string, rent, deposit, advance int64) {
	t.Helper()
	require.NoError(t, f.ledger.CreateRoom(f.ctx, &domain.Room{
		RoomID:          id,
		OwnerID:         landlord.UserID,
		Title:           "Room " + id,
		PricePerMonth:   decimal.NewFromInt(rent),
		SecurityDeposit: decimal.NewFromInt(deposit),
		AdvancePayment:  decimal.NewFromInt(advance),
		Status:          domain.RoomAvailable,
	}))
}

func (f *fixture) request(t *testing.T, who domain.Principal, roomID string) *BookingPaymentResult {
	t.Helper()
	res, err := f.engine.RequestBooking(f.ctx, who, BookingRequest{RoomID: roomID, StartDate: f.clock.AddDate(0, 0, 7)})
	require.NoError(t, err)
	return res
}

func (f *fixture) sign(p *domain.Payment) string {
	return f.signer.Sign(gateway.FormatAmount(p.Amount), p.TransactionUUID, f.signer.ProductCode())
}

func (f *fixture) verify(t *testing.T, p *domain.Payment) *LifecycleState {
	t.Helper()
	state, err := f.engine.VerifyPayment(f.ctx, p.TransactionUUID, "REF-"+p.PaymentID[:8], f.sign(p))
	require.NoError(t, err)
	return state
}

// payDeposit initiates and verifies the security deposit of an approved booking.
func (f *fixture) payDeposit(t *testing.T, bookingID string) *LifecycleState {
	t.Helper()
	deposit, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, bookingID, "security_deposit", "")
	require.NoError(t, err)
	return f.verify(t, deposit.Payment)
}

func (f *fixture) room(t *testing.T, id string) *domain.Room {
	t.Helper()
	room, err := f.ledger.GetRoom(f.ctx, id)
	require.NoError(t, err)
	return room
}

func (f *fixture) booking(t *testing.T, id string) *domain.Booking {
	t.Helper()
	b, err := f.ledger.GetBooking(f.ctx, id)
	require.NoError(t, err)
	return b
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, domain.KindOf(err), "unexpected error: %v", err)
}

func TestRequestBooking_ReservesRoomAndSignsForm(t *testing.T) {
	f := newFixture(t, EngineOptions{})

	res := f.request(t, tenant, "room-1")

	assert.Equal(t, domain.BookingPending, res.Booking.Status)
	assert.Equal(t, domain.TenancyPending, res.Booking.Tenancy())
	assert.Equal(t, landlord.UserID, res.Booking.LandlordID)
	assert.True(t, res.Booking.MonthlyRent.Equal(decimal.NewFromInt(12000)))

	assert.Equal(t, domain.PaymentTypeBooking, res.Payment.PaymentType)
	assert.Equal(t, domain.PaymentPending, res.Payment.Status)
	assert.True(t, res.Payment.Amount.Equal(decimal.NewFromInt(8000)))

	assert.Equal(t, "8000", res.Form.Fields.TotalAmount)
	assert.Equal(t, res.Payment.TransactionUUID, res.Form.Fields.TransactionUUID)
	assert.True(t, f.signer.VerifyPayment(res.Form.Fields.Signature, res.Payment.Amount, res.Payment.TransactionUUID))

	success, err := url.Parse(res.Form.Fields.SuccessURL)
	require.NoError(t, err)
	assert.Equal(t, res.Booking.BookingID, success.Query().Get("booking_id"))
	assert.Equal(t, res.Payment.PaymentID, success.Query().Get("payment_id"))
	assert.Empty(t, res.Form.Fields.FailureURL)

	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
	assert.Equal(t, []events.Type{events.BookingRequested, events.PaymentInitiated}, f.publisher.types())
}

func TestRequestBooking_Rejections(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	f.addRoom(t, "free-room", 9000, 0, 0)

	_, err := f.engine.RequestBooking(f.ctx, landlord, BookingRequest{RoomID: "room-1", StartDate: f.clock})
	requireKind(t, err, domain.KindForbidden)

	_, err = f.engine.RequestBooking(f.ctx, tenant, BookingRequest{RoomID: "missing", StartDate: f.clock})
	requireKind(t, err, domain.KindNotFound)

	_, err = f.engine.RequestBooking(f.ctx, tenant, BookingRequest{RoomID: "room-1"})
	requireKind(t, err, domain.KindInvalidArgument)

	_, err = f.engine.RequestBooking(f.ctx, tenant, BookingRequest{RoomID: "free-room", StartDate: f.clock})
	requireKind(t, err, domain.KindInvalidState)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "free-room").Status)

	f.request(t, tenant, "room-1")
	_, err = f.engine.RequestBooking(f.ctx, tenant, BookingRequest{RoomID: "room-1", StartDate: f.clock})
	requireKind(t, err, domain.KindConflict)
	_, err = f.engine.RequestBooking(f.ctx, tenant2, BookingRequest{RoomID: "room-1", StartDate: f.clock})
	requireKind(t, err, domain.KindConflict)
}

func TestRequestBooking_ConcurrentRequestsReserveOnce(t *testing.T) {
	f := newFixture(t, EngineOptions{})

	const callers = 12
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := domain.Principal{UserID: fmt.Sprintf("tenant-%d", i), Role: domain.RoleTenant}
			_, err := f.engine.RequestBooking(f.ctx, who, BookingRequest{RoomID: "room-1", StartDate: f.clock})
			switch {
			case err == nil:
				ok.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, callers-1, conflicts.Load())
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestBookingPaymentThenApproval_RoomStaysReserved(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	verified := f.verify(t, res.Payment)
	assert.Equal(t, domain.PaymentCompleted, verified.Payment.Status)
	assert.Equal(t, domain.BookingPending, verified.Booking.Status)
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)

	state, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingApproved, state.Booking.Status)
	assert.Equal(t, domain.TenancyPending, state.Booking.Tenancy())
	assert.NotNil(t, state.Booking.ApprovedAt)
	assert.Equal(t, domain.RoomReserved, state.Room.Status)
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestApprovalThenBookingPayment_RoomStaysReserved(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	state, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.TenancyPending, state.Booking.Tenancy())
	assert.Equal(t, domain.RoomReserved, state.Room.Status)

	verified := f.verify(t, res.Payment)
	assert.Equal(t, domain.PaymentCompleted, verified.Payment.Status)
	assert.Equal(t, domain.BookingApproved, verified.Booking.Status)
	assert.Equal(t, domain.TenancyPending, f.booking(t, res.Booking.BookingID).Tenancy())
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestApproveThenDeposit_ActivatesTenancy(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	f.verify(t, res.Payment)

	state := f.payDeposit(t, res.Booking.BookingID)
	assert.False(t, state.Replayed)
	assert.Equal(t, domain.PaymentTypeSecurityDeposit, state.Payment.PaymentType)
	assert.Equal(t, domain.TenancyActive, state.Booking.Tenancy())
	assert.Equal(t, domain.RoomOccupied, f.room(t, "room-1").Status)
	assert.Equal(t, domain.TenancyActive, f.booking(t, res.Booking.BookingID).Tenancy())

	assert.Equal(t, []events.Type{
		events.BookingRequested, events.PaymentInitiated,
		events.BookingApproved,
		events.PaymentCompleted,
		events.PaymentInitiated,
		events.PaymentCompleted, events.TenancyActivated,
	}, f.publisher.types())
}

func TestAdvancePaymentActivatesApprovedBooking(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	advance, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, res.Booking.BookingID, "advance", "")
	require.NoError(t, err)
	assert.True(t, advance.Payment.Amount.Equal(decimal.NewFromInt(3000)))

	state := f.verify(t, advance.Payment)
	assert.Equal(t, domain.TenancyActive, state.Booking.Tenancy())
	assert.Equal(t, domain.RoomOccupied, state.Room.Status)
	assert.Equal(t, domain.RoomOccupied, f.room(t, "room-1").Status)
}

func TestRentPaymentLeavesTenancyPending(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	rent, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, res.Booking.BookingID, "rent", "")
	require.NoError(t, err)
	state := f.verify(t, rent.Payment)
	assert.Equal(t, domain.PaymentCompleted, state.Payment.Status)
	assert.Equal(t, domain.BookingApproved, state.Booking.Status)
	assert.Equal(t, domain.TenancyPending, f.booking(t, res.Booking.BookingID).Tenancy())
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
	assert.NotContains(t, f.publisher.types(), events.TenancyActivated)
}

func TestVerifyAfterRejection_KeepsRoomAvailable(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.RejectBooking(f.ctx, landlord, res.Booking.BookingID, "")
	require.NoError(t, err)
	require.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	state := f.verify(t, res.Payment)
	assert.Equal(t, domain.PaymentCompleted, state.Payment.Status)
	assert.Equal(t, domain.BookingRejected, state.Booking.Status)
	assert.Equal(t, domain.RoomAvailable, state.Room.Status)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	// the room is still free for someone else
	f.request(t, tenant2, "room-1")
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestApproveBooking_Guards(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	_, err := f.engine.ApproveBooking(f.ctx, stranger, res.Booking.BookingID)
	requireKind(t, err, domain.KindForbidden)

	_, err = f.engine.ApproveBooking(f.ctx, landlord, "missing")
	requireKind(t, err, domain.KindNotFound)

	_, err = f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	_, err = f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestVerifyPayment_ReplayIsNoOp(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	first := f.verify(t, res.Payment)
	published := len(f.publisher.types())

	second := f.verify(t, res.Payment)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.CompletedAt, second.Payment.CompletedAt)
	assert.Equal(t, domain.RoomReserved, second.Room.Status)
	assert.Len(t, f.publisher.types(), published)
}

func TestVerifyPayment_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	_, err := f.engine.VerifyPayment(f.ctx, res.Payment.TransactionUUID, "REF", "bm90LWEtc2lnbmF0dXJl")
	requireKind(t, err, domain.KindInvalidSignature)

	tampered := f.signer.Sign("1", res.Payment.TransactionUUID, f.signer.ProductCode())
	_, err = f.engine.VerifyPayment(f.ctx, res.Payment.TransactionUUID, "REF", tampered)
	requireKind(t, err, domain.KindInvalidSignature)

	p, err := f.ledger.GetPaymentByTransaction(f.ctx, res.Payment.TransactionUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)

	_, err = f.engine.VerifyPayment(f.ctx, "unknown-txn", "REF", "sig")
	requireKind(t, err, domain.KindNotFound)
}

func TestRejectBooking_ReleasesRoomAndAllowsRebooking(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	_, err := f.engine.RejectBooking(f.ctx, stranger, res.Booking.BookingID, "")
	requireKind(t, err, domain.KindForbidden)

	state, err := f.engine.RejectBooking(f.ctx, landlord, res.Booking.BookingID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRejected, state.Booking.Status)
	require.NotNil(t, state.Booking.LandlordResponse)
	assert.Equal(t, domain.DefaultRejectResponse, *state.Booking.LandlordResponse)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	again := f.request(t, tenant, "room-1")
	assert.NotEqual(t, res.Booking.BookingID, again.Booking.BookingID)
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestRejectBooking_ApprovedNeedsPolicy(t *testing.T) {
	strict := newFixture(t, EngineOptions{})
	res := strict.request(t, tenant, "room-1")
	_, err := strict.engine.ApproveBooking(strict.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	_, err = strict.engine.RejectBooking(strict.ctx, landlord, res.Booking.BookingID, "changed my mind")
	requireKind(t, err, domain.KindInvalidTransition)

	lenient := newFixture(t, EngineOptions{AllowRejectApproved: true})
	res = lenient.request(t, tenant, "room-1")
	_, err = lenient.engine.ApproveBooking(lenient.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	state, err := lenient.engine.RejectBooking(lenient.ctx, landlord, res.Booking.BookingID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRejected, state.Booking.Status)
	assert.Equal(t, domain.RoomAvailable, state.Room.Status)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	_, err := f.engine.CancelBooking(f.ctx, stranger, res.Booking.BookingID, "")
	requireKind(t, err, domain.KindForbidden)

	state, err := f.engine.CancelBooking(f.ctx, tenant, res.Booking.BookingID, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, state.Booking.Status)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	_, err = f.engine.CancelBooking(f.ctx, tenant, res.Booking.BookingID, "")
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestActiveTenancy_CannotBeCancelledButCanBeTerminated(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	f.verify(t, res.Payment)
	f.payDeposit(t, res.Booking.BookingID)

	_, err = f.engine.CancelBooking(f.ctx, tenant, res.Booking.BookingID, "")
	requireKind(t, err, domain.KindInvalidTransition)
	assert.Equal(t, domain.RoomOccupied, f.room(t, "room-1").Status)

	state, err := f.engine.TerminateTenancy(f.ctx, tenant, res.Booking.BookingID, "moving out early")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, state.Booking.Status)
	assert.Equal(t, domain.TenancyTerminated, state.Booking.Tenancy())
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	_, err = f.engine.TerminateTenancy(f.ctx, tenant, res.Booking.BookingID, "")
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestCompleteTenancy_LandlordOnly(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	f.verify(t, res.Payment)
	_, err = f.engine.CompleteTenancy(f.ctx, landlord, res.Booking.BookingID)
	requireKind(t, err, domain.KindInvalidTransition)

	f.payDeposit(t, res.Booking.BookingID)
	_, err = f.engine.CompleteTenancy(f.ctx, tenant, res.Booking.BookingID)
	requireKind(t, err, domain.KindForbidden)

	state, err := f.engine.CompleteTenancy(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.TenancyCompleted, state.Booking.Tenancy())
	assert.Equal(t, domain.BookingCompleted, state.Booking.Status)
	assert.Equal(t, domain.RoomAvailable, state.Room.Status)
	assert.Contains(t, f.publisher.types(), events.TenancyCompleted)
}

func TestInitiateSupplementalPayment(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	id := res.Booking.BookingID

	_, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "rent", "")
	requireKind(t, err, domain.KindInvalidState)

	_, err = f.engine.ApproveBooking(f.ctx, landlord, id)
	require.NoError(t, err)

	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "booking_payment", "")
	requireKind(t, err, domain.KindInvalidArgument)
	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "rent", "2026-13")
	requireKind(t, err, domain.KindInvalidArgument)
	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant2, id, "rent", "")
	requireKind(t, err, domain.KindForbidden)

	rent, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "RENT", "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentTypeRent, rent.Payment.PaymentType)
	require.NotNil(t, rent.Payment.PaymentMonth)
	assert.Equal(t, "2026-10", *rent.Payment.PaymentMonth)
	assert.True(t, rent.Payment.Amount.Equal(decimal.NewFromInt(12000)))
	assert.True(t, f.signer.VerifyPayment(rent.Form.Fields.Signature, rent.Payment.Amount, rent.Payment.TransactionUUID))

	// a second pending rent for the same month is allowed until one completes
	dup, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "rent", "2026-10")
	require.NoError(t, err)

	f.verify(t, rent.Payment)
	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "rent", "2026-10")
	requireKind(t, err, domain.KindConflict)

	_, err = f.engine.VerifyPayment(f.ctx, dup.Payment.TransactionUUID, "REF", f.sign(dup.Payment))
	requireKind(t, err, domain.KindConflict)

	deposit, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, id, "security_deposit", "")
	require.NoError(t, err)
	assert.True(t, deposit.Payment.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Nil(t, deposit.Payment.PaymentMonth)
}

func TestInitiateSupplementalPayment_ZeroAmount(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	f.addRoom(t, "no-rent", 0, 1000, 0)
	res := f.request(t, tenant, "no-rent")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant, res.Booking.BookingID, "rent", "")
	requireKind(t, err, domain.KindInvalidArgument)
	_, err = f.engine.InitiateSupplementalPayment(f.ctx, tenant, res.Booking.BookingID, "advance", "")
	requireKind(t, err, domain.KindInvalidArgument)
}

func TestSupplementalDepositActivatesTenancy(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.ApproveBooking(f.ctx, landlord, res.Booking.BookingID)
	require.NoError(t, err)

	deposit, err := f.engine.InitiateSupplementalPayment(f.ctx, tenant, res.Booking.BookingID, "security_deposit", "")
	require.NoError(t, err)
	state := f.verify(t, deposit.Payment)
	assert.Equal(t, domain.TenancyActive, state.Booking.Tenancy())
	assert.Equal(t, domain.RoomOccupied, f.room(t, "room-1").Status)
}

func TestLatePaymentOnCancelledBookingIsRecorded(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	_, err := f.engine.CancelBooking(f.ctx, tenant, res.Booking.BookingID, "")
	require.NoError(t, err)
	f.request(t, tenant2, "room-1")

	state := f.verify(t, res.Payment)
	assert.Equal(t, domain.PaymentCompleted, state.Payment.Status)
	assert.Equal(t, domain.BookingCancelled, state.Booking.Status)
	assert.Equal(t, domain.RoomReserved, f.room(t, "room-1").Status)
}

func TestFailPayment_CancelsPendingBooking(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")

	state, err := f.engine.FailPayment(f.ctx, res.Payment.TransactionUUID, "Gateway reported CANCELED")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, state.Payment.Status)
	assert.Equal(t, domain.BookingCancelled, f.booking(t, res.Booking.BookingID).Status)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	again, err := f.engine.FailPayment(f.ctx, res.Payment.TransactionUUID, "again")
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = f.engine.VerifyPayment(f.ctx, res.Payment.TransactionUUID, "REF", f.sign(res.Payment))
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestFailPayment_CompletedIsInvalidTransition(t *testing.T) {
	f := newFixture(t, EngineOptions{})
	res := f.request(t, tenant, "room-1")
	f.verify(t, res.Payment)

	_, err := f.engine.FailPayment(f.ctx, res.Payment.TransactionUUID, "late")
	requireKind(t, err, domain.KindInvalidTransition)
}

func TestExpirePendingBookings(t *testing.T) {
	disabled := newFixture(t, EngineOptions{})
	_, err := disabled.engine.ExpirePendingBookings(disabled.ctx, time.Hour, 10)
	requireKind(t, err, domain.KindInvalidState)

	f := newFixture(t, EngineOptions{ExpirePending: true})
	f.addRoom(t, "room-2", 10000, 2000, 2000)
	f.addRoom(t, "room-3", 10000, 2000, 2000)
	stale := f.request(t, tenant, "room-1")
	paid := f.request(t, tenant, "room-2")
	f.verify(t, paid.Payment)

	f.clock = f.clock.Add(73 * time.Hour)
	fresh := f.request(t, tenant2, "room-3")

	n, err := f.engine.ExpirePendingBookings(f.ctx, 72*time.Hour, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.BookingCancelled, f.booking(t, stale.Booking.BookingID).Status)
	assert.Equal(t, domain.BookingPending, f.booking(t, paid.Booking.BookingID).Status)
	assert.Equal(t, domain.BookingPending, f.booking(t, fresh.Booking.BookingID).Status)
	assert.Equal(t, domain.RoomAvailable, f.room(t, "room-1").Status)

	p, err := f.ledger.GetPaymentByTransaction(f.ctx, stale.Payment.TransactionUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
}
