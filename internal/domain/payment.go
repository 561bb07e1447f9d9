package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var paymentMonthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidPaymentMonth period key for recurring rent, YYYY-MM.
func ValidPaymentMonth(s string) bool {
	return paymentMonthPattern.MatchString(s)
}

// Payment a single gateway transaction against a booking (payments table).
type Payment struct {
	PaymentID       string          `db:"payment_id" json:"payment_id"`
	BookingID       string          `db:"booking_id" json:"booking_id"`
	TenantID        string          `db:"tenant_id" json:"tenant_id"`
	LandlordID      string          `db:"landlord_id" json:"landlord_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	PaymentType     PaymentType     `db:"payment_type" json:"payment_type"`
	PaymentMonth    *string         `db:"payment_month" json:"payment_month,omitempty"`
	Description     *string         `db:"description" json:"description,omitempty"`
	TransactionUUID string          `db:"transaction_uuid" json:"transaction_uuid"`
	GatewayRefID    *string         `db:"gateway_ref_id" json:"gateway_ref_id,omitempty"`
	GatewaySig      *string         `db:"gateway_signature" json:"-"`
	Status          PaymentStatus   `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Complete pending -> completed. Returns false when the payment was already completed,
// which callers treat as an idempotent replay.
func (p *Payment) Complete(refID, signature string, now time.Time) (bool, error) {
	switch p.Status {
	case PaymentCompleted:
		return false, nil
	case PaymentPending:
	default:
		return false, InvalidTransition("payment %s is already %s", p.TransactionUUID, p.Status)
	}
	at := now.UTC()
	p.Status = PaymentCompleted
	p.GatewayRefID = &refID
	p.GatewaySig = &signature
	p.CompletedAt = &at
	return true, nil
}

// Fail pending -> failed. Returns false when already failed.
func (p *Payment) Fail(reason string) (bool, error) {
	switch p.Status {
	case PaymentFailed:
		return false, nil
	case PaymentPending:
	default:
		return false, InvalidTransition("payment %s is already %s", p.TransactionUUID, p.Status)
	}
	p.Status = PaymentFailed
	if reason != "" {
		p.Description = &reason
	}
	return true, nil
}
