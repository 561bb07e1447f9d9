package domain

import (
	"fmt"
	"strings"
)

// normalize folds a status string to its canonical form ("APPROVED", " Approved " -> "approved").
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RoomStatus room availability (rooms.status)
type RoomStatus string

const (
	RoomAvailable        RoomStatus = "available"
	RoomReserved         RoomStatus = "reserved"
	RoomOccupied         RoomStatus = "occupied"
	RoomUnderMaintenance RoomStatus = "under_maintenance"
	RoomInactive         RoomStatus = "inactive"
)

func (s RoomStatus) IsValid() bool {
	switch s {
	case RoomAvailable, RoomReserved, RoomOccupied, RoomUnderMaintenance, RoomInactive:
		return true
	}
	return false
}

func (s RoomStatus) String() string { return string(s) }

// ParseRoomStatus converts a stored or transported value to a RoomStatus, case-insensitively.
func ParseRoomStatus(s string) (RoomStatus, error) {
	status := RoomStatus(normalize(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid room status: %q", s)
	}
	return status, nil
}

// BookingStatus booking approval status (bookings.status)
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved"
	BookingRejected  BookingStatus = "rejected"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingApproved, BookingRejected, BookingCancelled},
	BookingApproved:  {BookingCompleted, BookingCancelled},
	BookingRejected:  {},
	BookingCancelled: {},
	BookingCompleted: {},
}

func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether the booking state machine allows s -> target.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal rejected, cancelled and completed accept no further transitions.
func (s BookingStatus) IsTerminal() bool {
	allowed, ok := bookingTransitions[s]
	if !ok {
		return true
	}
	return len(allowed) == 0
}

// IsOpen pending and approved bookings hold the room.
func (s BookingStatus) IsOpen() bool {
	return s == BookingPending || s == BookingApproved
}

func (s BookingStatus) String() string { return string(s) }

func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(normalize(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %q", s)
	}
	return status, nil
}

// TenancyStatus occupancy sub-state, only meaningful while the booking is approved
type TenancyStatus string

const (
	TenancyPending    TenancyStatus = "pending"
	TenancyActive     TenancyStatus = "active"
	TenancyCompleted  TenancyStatus = "completed"
	TenancyTerminated TenancyStatus = "terminated"
)

var tenancyTransitions = map[TenancyStatus][]TenancyStatus{
	TenancyPending:    {TenancyActive},
	TenancyActive:     {TenancyCompleted, TenancyTerminated},
	TenancyCompleted:  {},
	TenancyTerminated: {},
}

func (s TenancyStatus) IsValid() bool {
	_, ok := tenancyTransitions[s]
	return ok
}

func (s TenancyStatus) CanTransitionTo(target TenancyStatus) bool {
	for _, t := range tenancyTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s TenancyStatus) String() string { return string(s) }

func ParseTenancyStatus(s string) (TenancyStatus, error) {
	status := TenancyStatus(normalize(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid tenancy status: %q", s)
	}
	return status, nil
}

// PaymentStatus settlement status (payments.status)
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) String() string { return string(s) }

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(normalize(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid payment status: %q", s)
	}
	return status, nil
}

// PaymentType what a payment settles (payments.payment_type)
type PaymentType string

const (
	// PaymentTypeBooking security deposit + advance collected together at request time
	PaymentTypeBooking         PaymentType = "booking_payment"
	PaymentTypeRent            PaymentType = "rent"
	PaymentTypeSecurityDeposit PaymentType = "security_deposit"
	PaymentTypeAdvance         PaymentType = "advance"
	PaymentTypeRefund          PaymentType = "refund"
)

func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypeBooking, PaymentTypeRent, PaymentTypeSecurityDeposit, PaymentTypeAdvance, PaymentTypeRefund:
		return true
	}
	return false
}

// IsSupplemental types a tenant may initiate against an approved booking.
func (t PaymentType) IsSupplemental() bool {
	return t == PaymentTypeRent || t == PaymentTypeSecurityDeposit || t == PaymentTypeAdvance
}

// FundsOccupancy types whose completion (together with approval) activates the tenancy.
// The booking payment only holds the reservation.
func (t PaymentType) FundsOccupancy() bool {
	return t == PaymentTypeSecurityDeposit || t == PaymentTypeAdvance
}

func (t PaymentType) String() string { return string(t) }

func ParsePaymentType(s string) (PaymentType, error) {
	t := PaymentType(normalize(s))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid payment type: %q", s)
	}
	return t, nil
}

// Role principal role
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleTenant || r == RoleLandlord || r == RoleAdmin
}

func (r Role) String() string { return string(r) }

// ParseRole accepts the mixed-case spellings found in user records ("TENANT", "Landlord").
func ParseRole(s string) (Role, error) {
	r := Role(normalize(s))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role: %q", s)
	}
	return r, nil
}
