package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
)

// MemoryLedger used when the database is disabled or unreachable (local runs, tests).
// A unit of work holds the write lock for its whole duration and works on a copy of the
// maps; the copy replaces the live state only when fn succeeds.
type MemoryLedger struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	rooms    map[string]domain.Room
	bookings map[string]domain.Booking
	payments map[string]domain.Payment // keyed by transaction uuid
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		rooms:    make(map[string]domain.Room, len(s.rooms)),
		bookings: make(map[string]domain.Booking, len(s.bookings)),
		payments: make(map[string]domain.Payment, len(s.payments)),
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

var _ LedgerStore = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		state: memoryState{
			rooms:    map[string]domain.Room{},
			bookings: map[string]domain.Booking{},
			payments: map[string]domain.Payment{},
		},
	}
}

func (m *MemoryLedger) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryLedger) CreateRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.rooms[room.RoomID]; ok {
		return ErrDuplicate
	}
	m.state.rooms[room.RoomID] = *room
	return nil
}

func (m *MemoryLedger) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.state.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryLedger) GetBooking(_ context.Context, bookingID string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryLedger) GetPaymentByTransaction(_ context.Context, transactionUUID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.state.payments[transactionUUID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryLedger) ListBookingsForUser(_ context.Context, userID string) ([]*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Booking{}
	for _, b := range m.state.bookings {
		if b.IsParty(userID) {
			out = append(out, &b)
		}
	}
	sortBookingsNewestFirst(out)
	return out, nil
}

func (m *MemoryLedger) ListActiveTenancies(_ context.Context, tenantID string) ([]*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Booking{}
	for _, b := range m.state.bookings {
		if b.TenantID == tenantID && b.Status == domain.BookingApproved && b.Tenancy() == domain.TenancyActive {
			out = append(out, &b)
		}
	}
	sortBookingsNewestFirst(out)
	return out, nil
}

func (m *MemoryLedger) ListPayments(_ context.Context, f PaymentFilter) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Payment{}
	for _, p := range m.state.payments {
		if matchesPayment(&p, f) {
			out = append(out, &p)
		}
	}
	sortPaymentsNewestFirst(out)
	return out, nil
}

func (m *MemoryLedger) ListStalePendingPayments(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Payment{}
	for _, p := range m.state.payments {
		if p.Status == domain.PaymentPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) ListStalePendingBookings(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Booking{}
	for _, b := range m.state.bookings {
		if b.Status == domain.BookingPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryTx the caller already holds the ledger write lock, so row locks are implicit.
type memoryTx struct {
	state memoryState
}

var _ LedgerTx = (*memoryTx)(nil)

func (t *memoryTx) LockRoom(_ context.Context, roomID string) (*domain.Room, error) {
	r, ok := t.state.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memoryTx) UpdateRoom(_ context.Context, room *domain.Room) error {
	if _, ok := t.state.rooms[room.RoomID]; !ok {
		return ErrNotFound
	}
	t.state.rooms[room.RoomID] = *room
	return nil
}

func (t *memoryTx) GetBookingForUpdate(_ context.Context, bookingID string) (*domain.Booking, error) {
	b, ok := t.state.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memoryTx) FindOpenBooking(_ context.Context, tenantID, roomID string) (*domain.Booking, error) {
	for _, b := range t.state.bookings {
		if b.TenantID == tenantID && b.RoomID == roomID && b.Status.IsOpen() {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) CreateBooking(_ context.Context, b *domain.Booking) error {
	if _, ok := t.state.bookings[b.BookingID]; ok {
		return ErrDuplicate
	}
	if b.Status.IsOpen() {
		if _, err := t.FindOpenBooking(context.Background(), b.TenantID, b.RoomID); err == nil {
			return ErrDuplicate
		}
	}
	t.state.bookings[b.BookingID] = *b
	return nil
}

func (t *memoryTx) UpdateBooking(_ context.Context, b *domain.Booking) error {
	if _, ok := t.state.bookings[b.BookingID]; !ok {
		return ErrNotFound
	}
	t.state.bookings[b.BookingID] = *b
	return nil
}

func (t *memoryTx) GetPaymentByTransactionForUpdate(_ context.Context, transactionUUID string) (*domain.Payment, error) {
	p, ok := t.state.payments[transactionUUID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) ListPaymentsByBooking(_ context.Context, bookingID string) ([]*domain.Payment, error) {
	out := []*domain.Payment{}
	for _, p := range t.state.payments {
		if p.BookingID == bookingID {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	if _, ok := t.state.payments[p.TransactionUUID]; ok {
		return ErrDuplicate
	}
	for _, existing := range t.state.payments {
		if existing.PaymentID == p.PaymentID {
			return ErrDuplicate
		}
	}
	if _, ok := t.state.bookings[p.BookingID]; !ok {
		return ErrNotFound
	}
	t.state.payments[p.TransactionUUID] = *p
	return nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, p *domain.Payment) error {
	existing, ok := t.state.payments[p.TransactionUUID]
	if !ok || existing.PaymentID != p.PaymentID {
		return ErrNotFound
	}
	if p.PaymentType == domain.PaymentTypeRent && p.Status == domain.PaymentCompleted && p.PaymentMonth != nil {
		for _, other := range t.state.payments {
			if other.PaymentID != p.PaymentID && other.BookingID == p.BookingID &&
				other.PaymentType == domain.PaymentTypeRent && other.Status == domain.PaymentCompleted &&
				other.PaymentMonth != nil && *other.PaymentMonth == *p.PaymentMonth {
				return ErrDuplicate
			}
		}
	}
	t.state.payments[p.TransactionUUID] = *p
	return nil
}

func sortBookingsNewestFirst(bs []*domain.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].BookingID > bs[j].BookingID
		}
		return bs[i].CreatedAt.After(bs[j].CreatedAt)
	})
}

func sortPaymentsNewestFirst(ps []*domain.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].PaymentID > ps[j].PaymentID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}
