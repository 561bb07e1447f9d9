package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/H51976/roombox-fyp/internal/domain"
	"github.com/H51976/roombox-fyp/internal/repository"
	"github.com/H51976/roombox-fyp/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QueryService read-only views over the ledger. It never changes state.
type QueryService struct {
	store  repository.LedgerStore
	cache  *store.AvailabilityCache
	logger *zap.Logger
	now    func() time.Time
}

func NewQueryService(ledger repository.LedgerStore, cache *store.AvailabilityCache, logger *zap.Logger) *QueryService {
	return &QueryService{
		store:  ledger,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// PaymentLine completed payment as shown in booking and transaction lists
type PaymentLine struct {
	PaymentID    string             `json:"payment_id"`
	BookingID    string             `json:"booking_id"`
	Amount       decimal.Decimal    `json:"amount"`
	PaymentType  domain.PaymentType `json:"payment_type"`
	PaymentMonth *string            `json:"payment_month,omitempty"`
	RoomTitle    string             `json:"room_title,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// BookingView booking plus what has been paid on it
type BookingView struct {
	*domain.Booking
	RoomTitle string          `json:"room_title"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Payments  []PaymentLine   `json:"payments"`
}

// IncomeReport landlord income over a period
type IncomeReport struct {
	TotalIncome  decimal.Decimal `json:"total_income"`
	PaymentCount int             `json:"payment_count"`
	Payments     []PaymentLine   `json:"payments"`
}

// TransactionHistory tenant's completed payments
type TransactionHistory struct {
	Transactions     []PaymentLine   `json:"transactions"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TransactionCount int             `json:"transaction_count"`
}

// UpcomingPayment rent due for an active tenancy
type UpcomingPayment struct {
	BookingID    string          `json:"booking_id"`
	RoomID       string          `json:"room_id"`
	RoomTitle    string          `json:"room_title"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentMonth string          `json:"payment_month"`
	DueDate      time.Time       `json:"due_date"`
}

// RoomAvailability room status and where it was read from ("cache" or "ledger").
type RoomAvailability struct {
	RoomID string            `json:"room_id"`
	Status domain.RoomStatus `json:"status"`
	Source string            `json:"source"`
}

// MyBookings bookings where the caller is tenant or landlord, newest first.
func (s *QueryService) MyBookings(ctx context.Context, principal domain.Principal) ([]BookingView, error) {
	bookings, err := s.store.ListBookingsForUser(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	titles := newTitleLookup(s.store)
	views := make([]BookingView, 0, len(bookings))
	for _, b := range bookings {
		payments, err := s.store.ListPayments(ctx, repository.PaymentFilter{
			BookingID: b.BookingID,
			Status:    domain.PaymentCompleted,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list payments for booking %s: %w", b.BookingID, err)
		}
		title := titles.get(ctx, b.RoomID)
		lines, total := toLines(payments, nil)
		views = append(views, BookingView{
			Booking:   b,
			RoomTitle: title,
			TotalPaid: total,
			Payments:  lines,
		})
	}
	return views, nil
}

// LandlordIncome completed payments received by the landlord; from/to are optional, to exclusive.
func (s *QueryService) LandlordIncome(ctx context.Context, principal domain.Principal, from, to *time.Time) (*IncomeReport, error) {
	if !principal.IsLandlord() {
		return nil, domain.Forbidden("only landlords can view income")
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, domain.InvalidArgument("income range start must be before its end")
	}
	payments, err := s.store.ListPayments(ctx, repository.PaymentFilter{
		LandlordID: principal.UserID,
		Status:     domain.PaymentCompleted,
		From:       from,
		To:         to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list income: %w", err)
	}
	lines, total := toLines(payments, s.bookingTitles(ctx, payments))
	return &IncomeReport{
		TotalIncome:  total,
		PaymentCount: len(lines),
		Payments:     lines,
	}, nil
}

// TenantTransactions completed payments made by the tenant.
func (s *QueryService) TenantTransactions(ctx context.Context, principal domain.Principal) (*TransactionHistory, error) {
	if !principal.IsTenant() {
		return nil, domain.Forbidden("only tenants can view transactions")
	}
	payments, err := s.store.ListPayments(ctx, repository.PaymentFilter{
		TenantID: principal.UserID,
		Status:   domain.PaymentCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	lines, total := toLines(payments, s.bookingTitles(ctx, payments))
	return &TransactionHistory{
		Transactions:     lines,
		TotalPaid:        total,
		TransactionCount: len(lines),
	}, nil
}

// UpcomingPayments current-month rent not yet paid on the tenant's active tenancies.
// Due date is the first day of the following month.
func (s *QueryService) UpcomingPayments(ctx context.Context, principal domain.Principal) ([]UpcomingPayment, error) {
	if !principal.IsTenant() {
		return nil, domain.Forbidden("only tenants have upcoming payments")
	}
	tenancies, err := s.store.ListActiveTenancies(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenancies: %w", err)
	}

	now := s.now().UTC()
	month := now.Format("2006-01")
	due := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	titles := newTitleLookup(s.store)

	upcoming := make([]UpcomingPayment, 0, len(tenancies))
	for _, b := range tenancies {
		paid, err := s.store.ListPayments(ctx, repository.PaymentFilter{
			BookingID: b.BookingID,
			Status:    domain.PaymentCompleted,
			Types:     []domain.PaymentType{domain.PaymentTypeRent},
			Month:     month,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to check rent for booking %s: %w", b.BookingID, err)
		}
		if len(paid) > 0 {
			continue
		}
		upcoming = append(upcoming, UpcomingPayment{
			BookingID:    b.BookingID,
			RoomID:       b.RoomID,
			RoomTitle:    titles.get(ctx, b.RoomID),
			Amount:       b.MonthlyRent,
			PaymentMonth: month,
			DueDate:      due,
		})
	}
	return upcoming, nil
}

// RoomAvailability reads the cached status, falling back to the ledger and refilling the cache.
func (s *QueryService) RoomAvailability(ctx context.Context, roomID string) (*RoomAvailability, error) {
	if roomID == "" {
		return nil, domain.InvalidArgument("room id is required")
	}
	if s.cache != nil {
		status, err := s.cache.Get(ctx, roomID)
		if err == nil {
			return &RoomAvailability{RoomID: roomID, Status: status, Source: "cache"}, nil
		}
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Availability cache read failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("room %s not found", roomID)
		}
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if s.cache != nil {
		if _, err := s.cache.PutRoom(ctx, room); err != nil {
			s.logger.Warn("Failed to refill availability cache", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	return &RoomAvailability{RoomID: roomID, Status: room.Status, Source: "ledger"}, nil
}

// bookingTitles room title per booking id for the given payments.
func (s *QueryService) bookingTitles(ctx context.Context, payments []*domain.Payment) map[string]string {
	titles := newTitleLookup(s.store)
	byBooking := make(map[string]string, len(payments))
	for _, p := range payments {
		if _, ok := byBooking[p.BookingID]; ok {
			continue
		}
		b, err := s.store.GetBooking(ctx, p.BookingID)
		if err != nil {
			s.logger.Debug("Booking lookup failed", zap.String("booking_id", p.BookingID), zap.Error(err))
			byBooking[p.BookingID] = ""
			continue
		}
		byBooking[p.BookingID] = titles.get(ctx, b.RoomID)
	}
	return byBooking
}

func toLines(payments []*domain.Payment, titles map[string]string) ([]PaymentLine, decimal.Decimal) {
	total := decimal.Zero
	lines := make([]PaymentLine, 0, len(payments))
	for _, p := range payments {
		total = total.Add(p.Amount)
		lines = append(lines, PaymentLine{
			PaymentID:    p.PaymentID,
			BookingID:    p.BookingID,
			Amount:       p.Amount,
			PaymentType:  p.PaymentType,
			PaymentMonth: p.PaymentMonth,
			RoomTitle:    titles[p.BookingID],
			CompletedAt:  p.CompletedAt,
		})
	}
	return lines, total
}

// titleLookup memoizes room titles within one query.
type titleLookup struct {
	store  repository.LedgerStore
	titles map[string]string
}

func newTitleLookup(s repository.LedgerStore) *titleLookup {
	return &titleLookup{store: s, titles: map[string]string{}}
}

func (l *titleLookup) get(ctx context.Context, roomID string) string {
	if t, ok := l.titles[roomID]; ok {
		return t
	}
	title := ""
	if room, err := l.store.GetRoom(ctx, roomID); err == nil {
		title = room.Title
	}
	l.titles[roomID] = title
	return title
}
