package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Room rental listing (rooms table). Only the fields the booking lifecycle reads are modelled;
// listing details (address, amenities, images) belong to listing CRUD.
type Room struct {
	RoomID          string          `db:"room_id" json:"room_id"`
	OwnerID         string          `db:"owner_id" json:"owner_id"`
	Title           string          `db:"title" json:"title"`
	PricePerMonth   decimal.Decimal `db:"price_per_month" json:"price_per_month"`
	SecurityDeposit decimal.Decimal `db:"security_deposit" json:"security_deposit"`
	AdvancePayment  decimal.Decimal `db:"advance_payment" json:"advance_payment"`
	Status          RoomStatus      `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// BookingAmount deposit + advance collected when a booking is requested.
func (r *Room) BookingAmount() decimal.Decimal {
	return r.SecurityDeposit.Add(r.AdvancePayment)
}

// Reserve available -> reserved
func (r *Room) Reserve(now time.Time) error {
	if r.Status != RoomAvailable {
		return Conflict("room %s is not available for booking (status: %s)", r.RoomID, r.Status)
	}
	r.Status = RoomReserved
	r.touch(now)
	return nil
}

// Occupy reserved -> occupied; already occupied is a no-op.
func (r *Room) Occupy(now time.Time) error {
	switch r.Status {
	case RoomOccupied:
		return nil
	case RoomReserved:
		r.Status = RoomOccupied
		r.touch(now)
		return nil
	}
	return InvalidState("room %s cannot be occupied from status %s", r.RoomID, r.Status)
}

// Release undoes a reservation or occupancy. Rooms the owner took off the market
// (under_maintenance, inactive) keep their status.
func (r *Room) Release(now time.Time) bool {
	if r.Status != RoomReserved && r.Status != RoomOccupied {
		return false
	}
	r.Status = RoomAvailable
	r.touch(now)
	return true
}

// touch moves UpdatedAt strictly forward at microsecond precision (what TIMESTAMPTZ keeps),
// so UpdatedAt orders a room's status changes even when the clock stalls.
func (r *Room) touch(now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	r.UpdatedAt = now
}

// StatusVersion orders status snapshots of one room; see touch.
func (r *Room) StatusVersion() int64 {
	return r.UpdatedAt.UnixMicro()
}
