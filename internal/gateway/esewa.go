package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// TestSecretKey / TestProductCode eSewa sandbox merchant credentials
	TestSecretKey   = "8gBm/:&EnhH.1/q"
	TestProductCode = "EPAYTEST"

	TestFormURL       = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
	ProductionFormURL = "https://epay.esewa.com.np/api/epay/main/v2/form"

	TestStatusURL       = "https://rc.esewa.com.np/api/epay/transaction/status/"
	ProductionStatusURL = "https://epay.esewa.com.np/api/epay/transaction/status/"

	signedFieldNames = "total_amount,transaction_uuid,product_code"
	productName      = "Room Booking"
)

// FormFields signed field set posted to the gateway form URL.
type FormFields struct {
	Amount                string `json:"amount"`
	TaxAmount             string `json:"tax_amount"`
	ProductCode           string `json:"product_code"`
	ProductServiceCharge  string `json:"product_service_charge"`
	ProductDeliveryCharge string `json:"product_delivery_charge"`
	TotalAmount           string `json:"total_amount"`
	TransactionUUID       string `json:"transaction_uuid"`
	ProductName           string `json:"product_name"`
	SuccessURL            string `json:"success_url"`
	FailureURL            string `json:"failure_url"`
	SignedFieldNames      string `json:"signed_field_names"`
	Signature             string `json:"signature"`
}

// Form what the request layer hands the browser: fields plus where to post them.
type Form struct {
	URL    string     `json:"form_url"`
	Fields FormFields `json:"form_data"`
}

// VerificationFields inputs of the canonical signed string on the callback side.
// TotalAmount must come from the stored payment, never from the callback payload.
type VerificationFields struct {
	TotalAmount     string
	TransactionUUID string
	ProductCode     string
}

// Config gateway merchant settings
type Config struct {
	SecretKey   string
	ProductCode string
	FormURL     string
}

// Signer builds and verifies gateway signatures. It holds no per-call state and is safe for
// concurrent use.
type Signer struct {
	secret      []byte
	productCode string
	formURL     string
}

// NewSigner falls back to the sandbox credentials for any empty setting.
func NewSigner(cfg Config) *Signer {
	if cfg.SecretKey == "" {
		cfg.SecretKey = TestSecretKey
	}
	if cfg.ProductCode == "" {
		cfg.ProductCode = TestProductCode
	}
	if cfg.FormURL == "" {
		cfg.FormURL = TestFormURL
	}
	return &Signer{
		secret:      []byte(cfg.SecretKey),
		productCode: cfg.ProductCode,
		formURL:     cfg.FormURL,
	}
}

func (s *Signer) ProductCode() string { return s.productCode }

// FormatAmount canonical amount text used both in the form and in the signed string.
func FormatAmount(amount decimal.Decimal) string {
	return amount.String()
}

// CanonicalString the exact byte sequence the HMAC covers.
func CanonicalString(totalAmount, transactionUUID, productCode string) string {
	return fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s", totalAmount, transactionUUID, productCode)
}

// Sign base64(HMAC-SHA256(secret, canonical string)).
func (s *Signer) Sign(totalAmount, transactionUUID, productCode string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(CanonicalString(totalAmount, transactionUUID, productCode)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// BuildPaymentRequest deterministic signed form for one transaction.
func (s *Signer) BuildPaymentRequest(amount decimal.Decimal, transactionUUID, successURL, failureURL string) Form {
	total := FormatAmount(amount)
	return Form{
		URL: s.formURL,
		Fields: FormFields{
			Amount:                total,
			TaxAmount:             "0",
			ProductCode:           s.productCode,
			ProductServiceCharge:  "0",
			ProductDeliveryCharge: "0",
			TotalAmount:           total,
			TransactionUUID:       transactionUUID,
			ProductName:           productName,
			SuccessURL:            successURL,
			FailureURL:            failureURL,
			SignedFieldNames:      signedFieldNames,
			Signature:             s.Sign(total, transactionUUID, s.productCode),
		},
	}
}

// VerifySignature recomputes the signature over fields and compares in constant time.
func (s *Signer) VerifySignature(signature string, fields VerificationFields) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(fields.TotalAmount, fields.TransactionUUID, fields.ProductCode)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyPayment checks a callback signature against a stored amount and transaction.
func (s *Signer) VerifyPayment(signature string, storedAmount decimal.Decimal, transactionUUID string) bool {
	return s.VerifySignature(signature, VerificationFields{
		TotalAmount:     FormatAmount(storedAmount),
		TransactionUUID: transactionUUID,
		ProductCode:     s.productCode,
	})
}
