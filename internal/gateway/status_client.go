package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionStatus values reported by the gateway status API
type TransactionStatus string

const (
	StatusComplete      TransactionStatus = "COMPLETE"
	StatusPending       TransactionStatus = "PENDING"
	StatusFullRefund    TransactionStatus = "FULL_REFUND"
	StatusPartialRefund TransactionStatus = "PARTIAL_REFUND"
	StatusAmbiguous     TransactionStatus = "AMBIGUOUS"
	StatusNotFound      TransactionStatus = "NOT_FOUND"
	StatusCanceled      TransactionStatus = "CANCELED"
)

// IsAbandoned the gateway will never complete this transaction.
func (s TransactionStatus) IsAbandoned() bool {
	return s == StatusNotFound || s == StatusCanceled
}

// StatusResponse body of GET <status_url>
type StatusResponse struct {
	ProductCode     string            `json:"product_code"`
	TransactionUUID string            `json:"transaction_uuid"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Status          TransactionStatus `json:"status"`
	RefID           *string           `json:"ref_id"`
}

type statusErrorResponse struct {
	Code         int    `json:"code"`
	ErrorMessage string `json:"error_message"`
}

// StatusClient gateway transaction-status API client, used by reconciliation only.
type StatusClient struct {
	httpClient  *resty.Client
	productCode string
	logger      *zap.Logger
}

// NewStatusClient statusURL is the full status endpoint (TestStatusURL in sandbox).
func NewStatusClient(statusURL, productCode string, logger *zap.Logger) *StatusClient {
	if statusURL == "" {
		statusURL = TestStatusURL
	}
	if productCode == "" {
		productCode = TestProductCode
	}
	client := resty.New().
		SetBaseURL(statusURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	return &StatusClient{
		httpClient:  client,
		productCode: productCode,
		logger:      logger,
	}
}

// CheckStatus asks the gateway what happened to one transaction.
func (c *StatusClient) CheckStatus(ctx context.Context, transactionUUID string, totalAmount decimal.Decimal) (*StatusResponse, error) {
	var result StatusResponse
	var failure statusErrorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"product_code":     c.productCode,
			"total_amount":     FormatAmount(totalAmount),
			"transaction_uuid": transactionUUID,
		}).
		SetResult(&result).
		SetError(&failure).
		Get("")
	if err != nil {
		c.logger.Error("Gateway status call failed",
			zap.String("transaction_uuid", transactionUUID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to call gateway status API: %w", err)
	}

	if resp.StatusCode() == 404 {
		return &StatusResponse{TransactionUUID: transactionUUID, Status: StatusNotFound}, nil
	}
	if resp.IsError() {
		c.logger.Warn("Gateway status API returned error",
			zap.String("transaction_uuid", transactionUUID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error_message", failure.ErrorMessage),
		)
		return nil, fmt.Errorf("gateway status API error: %s (http %d)", failure.ErrorMessage, resp.StatusCode())
	}
	if result.Status == "" {
		return nil, fmt.Errorf("gateway status API returned no status for %s", transactionUUID)
	}

	c.logger.Debug("Gateway status",
		zap.String("transaction_uuid", transactionUUID),
		zap.String("status", string(result.Status)),
	)
	return &result, nil
}
