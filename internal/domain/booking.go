package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRejectResponse stored when a landlord rejects without a message.
const DefaultRejectResponse = "Booking rejected"

// Booking a tenant's request to occupy a room (bookings table).
// MonthlyRent, SecurityDeposit and AdvancePayment are copied from the room when the booking
// is created; later price edits on the room never reach existing bookings.
type Booking struct {
	BookingID        string          `db:"booking_id" json:"booking_id"`
	TenantID         string          `db:"tenant_id" json:"tenant_id"`
	LandlordID       string          `db:"landlord_id" json:"landlord_id"`
	RoomID           string          `db:"room_id" json:"room_id"`
	StartDate        time.Time       `db:"start_date" json:"start_date"`
	EndDate          *time.Time      `db:"end_date" json:"end_date,omitempty"`
	MonthlyRent      decimal.Decimal `db:"monthly_rent" json:"monthly_rent"`
	SecurityDeposit  decimal.Decimal `db:"security_deposit" json:"security_deposit"`
	AdvancePayment   decimal.Decimal `db:"advance_payment" json:"advance_payment"`
	Status           BookingStatus   `db:"status" json:"status"`
	TenancyStatus    *TenancyStatus  `db:"tenancy_status" json:"tenancy_status,omitempty"`
	TenantMessage    *string         `db:"tenant_message" json:"tenant_message,omitempty"`
	LandlordResponse *string         `db:"landlord_response" json:"landlord_response,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	ApprovedAt       *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
}

// Tenancy returns the tenancy sub-state, or "" when it has not been set.
func (b *Booking) Tenancy() TenancyStatus {
	if b.TenancyStatus == nil {
		return ""
	}
	return *b.TenancyStatus
}

func (b *Booking) setTenancy(s TenancyStatus) {
	b.TenancyStatus = &s
}

// IsParty reports whether userID is the tenant or the landlord of the booking.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.TenantID || userID == b.LandlordID)
}

// AmountFor snapshot amount a supplemental payment of type t draws from.
func (b *Booking) AmountFor(t PaymentType) (decimal.Decimal, bool) {
	switch t {
	case PaymentTypeRent:
		return b.MonthlyRent, true
	case PaymentTypeSecurityDeposit:
		return b.SecurityDeposit, true
	case PaymentTypeAdvance:
		return b.AdvancePayment, true
	}
	return decimal.Zero, false
}

func (b *Booking) transition(to BookingStatus, now time.Time) error {
	if !b.Status.CanTransitionTo(to) {
		return InvalidTransition("booking %s is already %s", b.BookingID, b.Status)
	}
	b.Status = to
	b.UpdatedAt = now.UTC()
	return nil
}

// Approve pending -> approved, tenancy pending.
func (b *Booking) Approve(now time.Time) error {
	if b.Status != BookingPending {
		return InvalidTransition("booking %s is already %s", b.BookingID, b.Status)
	}
	if err := b.transition(BookingApproved, now); err != nil {
		return err
	}
	at := now.UTC()
	b.ApprovedAt = &at
	b.setTenancy(TenancyPending)
	return nil
}

// Reject pending -> rejected. allowApproved additionally admits approved bookings whose
// tenancy has not started.
func (b *Booking) Reject(reason string, allowApproved bool, now time.Time) error {
	switch {
	case b.Status == BookingPending:
	case b.Status == BookingApproved && allowApproved && b.Tenancy() != TenancyActive:
	default:
		return InvalidTransition("booking %s is already %s", b.BookingID, b.Status)
	}
	if reason == "" {
		reason = DefaultRejectResponse
	}
	b.Status = BookingRejected
	b.LandlordResponse = &reason
	b.UpdatedAt = now.UTC()
	return nil
}

// Cancel pending|approved -> cancelled. A running tenancy has to be terminated instead.
func (b *Booking) Cancel(reason string, now time.Time) error {
	if b.Tenancy() == TenancyActive {
		return InvalidTransition("booking %s is %s with an active tenancy; terminate it instead", b.BookingID, b.Status)
	}
	if err := b.transition(BookingCancelled, now); err != nil {
		return err
	}
	if reason != "" {
		b.LandlordResponse = &reason
	}
	return nil
}

// ActivateTenancy approved booking, tenancy pending -> active. Returns false when there is
// nothing to do (booking not approved yet, or tenancy already active).
func (b *Booking) ActivateTenancy(now time.Time) bool {
	if b.Status != BookingApproved || b.Tenancy() != TenancyPending {
		return false
	}
	b.setTenancy(TenancyActive)
	b.UpdatedAt = now.UTC()
	return true
}

func (b *Booking) endTenancy(to TenancyStatus, now time.Time) error {
	if b.Status != BookingApproved {
		return InvalidTransition("booking %s is %s; only approved bookings have a tenancy", b.BookingID, b.Status)
	}
	if !b.Tenancy().CanTransitionTo(to) {
		return InvalidTransition("tenancy of booking %s is %s", b.BookingID, b.tenancyLabel())
	}
	b.setTenancy(to)
	return b.transition(BookingCompleted, now)
}

// TerminateTenancy active -> terminated (early end by either party); booking completes.
func (b *Booking) TerminateTenancy(reason string, now time.Time) error {
	if err := b.endTenancy(TenancyTerminated, now); err != nil {
		return err
	}
	if reason != "" {
		b.LandlordResponse = &reason
	}
	return nil
}

// CompleteTenancy active -> completed (normal end); booking completes.
func (b *Booking) CompleteTenancy(now time.Time) error {
	return b.endTenancy(TenancyCompleted, now)
}

func (b *Booking) tenancyLabel() string {
	if b.TenancyStatus == nil {
		return "unset"
	}
	return string(*b.TenancyStatus)
}
