package repository

import (
	"context"
	"errors"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
)

var (
	// ErrNotFound no row for the requested key
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate unique constraint violated (transaction uuid, open booking per tenant+room, rent month)
	ErrDuplicate = errors.New("duplicate record")
)

// LedgerTx row access inside one unit of work. The *ForUpdate / Lock* methods take row locks
// that are held until the unit of work ends; callers lock room, then booking, then payment.
type LedgerTx interface {
	LockRoom(ctx context.Context, roomID string) (*domain.Room, error)
	UpdateRoom(ctx context.Context, room *domain.Room) error

	GetBookingForUpdate(ctx context.Context, bookingID string) (*domain.Booking, error)
	// FindOpenBooking pending or approved booking of tenant on room, ErrNotFound when none.
	FindOpenBooking(ctx context.Context, tenantID, roomID string) (*domain.Booking, error)
	CreateBooking(ctx context.Context, b *domain.Booking) error
	UpdateBooking(ctx context.Context, b *domain.Booking) error

	GetPaymentByTransactionForUpdate(ctx context.Context, transactionUUID string) (*domain.Payment, error)
	ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*domain.Payment, error)
	CreatePayment(ctx context.Context, p *domain.Payment) error
	UpdatePayment(ctx context.Context, p *domain.Payment) error
}

// PaymentFilter read-side payment listing. Zero values mean "any".
type PaymentFilter struct {
	BookingID  string
	TenantID   string
	LandlordID string
	Status     domain.PaymentStatus
	Types      []domain.PaymentType
	Month      string
	// From/To bound completed_at for completed payments, created_at otherwise. To is exclusive.
	From *time.Time
	To   *time.Time
}

// LedgerStore persistence for rooms, bookings and payments.
// RunInTx commits when fn returns nil and rolls everything back otherwise.
type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
	GetPaymentByTransaction(ctx context.Context, transactionUUID string) (*domain.Payment, error)

	// ListBookingsForUser bookings where userID is tenant or landlord, newest first.
	ListBookingsForUser(ctx context.Context, userID string) ([]*domain.Booking, error)
	ListActiveTenancies(ctx context.Context, tenantID string) ([]*domain.Booking, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]*domain.Payment, error)

	ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error)
	ListStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Booking, error)
}

func matchesPayment(p *domain.Payment, f PaymentFilter) bool {
	if f.BookingID != "" && p.BookingID != f.BookingID {
		return false
	}
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.LandlordID != "" && p.LandlordID != f.LandlordID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if p.PaymentType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Month != "" && (p.PaymentMonth == nil || *p.PaymentMonth != f.Month) {
		return false
	}
	at := p.CreatedAt
	if p.Status == domain.PaymentCompleted && p.CompletedAt != nil {
		at = *p.CompletedAt
	}
	if f.From != nil && at.Before(*f.From) {
		return false
	}
	if f.To != nil && !at.Before(*f.To) {
		return false
	}
	return true
}
