package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_KnownVector(t *testing.T) {
	s := NewSigner(Config{})
	got := s.Sign("100", "11-201-13", "EPAYTEST")
	assert.Equal(t, "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E=", got)
}

func TestBuildPaymentRequest_FieldsAndSignature(t *testing.T) {
	s := NewSigner(Config{})
	form := s.BuildPaymentRequest(decimal.NewFromInt(8000), "txn-1", "https://app/success", "https://app/failure")

	assert.Equal(t, TestFormURL, form.URL)
	f := form.Fields
	assert.Equal(t, "8000", f.Amount)
	assert.Equal(t, "8000", f.TotalAmount)
	assert.Equal(t, "0", f.TaxAmount)
	assert.Equal(t, "0", f.ProductServiceCharge)
	assert.Equal(t, "0", f.ProductDeliveryCharge)
	assert.Equal(t, "EPAYTEST", f.ProductCode)
	assert.Equal(t, "Room Booking", f.ProductName)
	assert.Equal(t, "total_amount,transaction_uuid,product_code", f.SignedFieldNames)
	assert.Equal(t, "https://app/success", f.SuccessURL)
	assert.Equal(t, s.Sign("8000", "txn-1", "EPAYTEST"), f.Signature)

	again := s.BuildPaymentRequest(decimal.NewFromInt(8000), "txn-1", "https://app/success", "https://app/failure")
	assert.Equal(t, form, again)
}

func TestVerifySignature_RejectsTampering(t *testing.T) {
	s := NewSigner(Config{})
	form := s.BuildPaymentRequest(decimal.RequireFromString("12000.50"), "txn-2", "", "")

	assert.True(t, s.VerifyPayment(form.Fields.Signature, decimal.RequireFromString("12000.5"), "txn-2"))
	assert.False(t, s.VerifyPayment(form.Fields.Signature, decimal.NewFromInt(1), "txn-2"))
	assert.False(t, s.VerifyPayment(form.Fields.Signature, decimal.RequireFromString("12000.5"), "txn-3"))
	assert.False(t, s.VerifyPayment("", decimal.RequireFromString("12000.5"), "txn-2"))
	assert.False(t, s.VerifyPayment("bm90IGEgc2lnbmF0dXJl", decimal.RequireFromString("12000.5"), "txn-2"))
}

func TestSigner_DifferentSecretsDisagree(t *testing.T) {
	a := NewSigner(Config{})
	b := NewSigner(Config{SecretKey: "another-secret"})
	sig := a.Sign("100", "t", "EPAYTEST")
	require.NotEmpty(t, sig)
	assert.False(t, b.VerifySignature(sig, VerificationFields{TotalAmount: "100", TransactionUUID: "t", ProductCode: "EPAYTEST"}))
}
