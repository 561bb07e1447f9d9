package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatusClient_CheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "EPAYTEST", q.Get("product_code"))
		assert.Equal(t, "8000", q.Get("total_amount"))
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("transaction_uuid") {
		case "done":
			_, _ = w.Write([]byte(`{"product_code":"EPAYTEST","transaction_uuid":"done","total_amount":8000.0,"status":"COMPLETE","ref_id":"0001"}`))
		case "gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":0,"error_message":"Service is currently unavailable"}`))
		default:
			_, _ = w.Write([]byte(`{"product_code":"EPAYTEST","transaction_uuid":"x","total_amount":8000.0,"status":"CANCELED","ref_id":null}`))
		}
	}))
	defer srv.Close()

	c := NewStatusClient(srv.URL, "", zap.NewNop())
	c.httpClient.SetRetryCount(0)

	res, err := c.CheckStatus(context.Background(), "done", decimal.NewFromInt(8000))
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	require.NotNil(t, res.RefID)
	assert.Equal(t, "0001", *res.RefID)
	assert.False(t, res.Status.IsAbandoned())

	res, err = c.CheckStatus(context.Background(), "gone", decimal.NewFromInt(8000))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.True(t, res.Status.IsAbandoned())

	res, err = c.CheckStatus(context.Background(), "other", decimal.NewFromInt(8000))
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, res.Status)
	assert.Nil(t, res.RefID)
}

func TestStatusClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":0,"error_message":"invalid product code"}`))
	}))
	defer srv.Close()

	c := NewStatusClient(srv.URL, "", zap.NewNop())
	c.httpClient.SetRetryCount(0)

	_, err := c.CheckStatus(context.Background(), "t", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid product code")
}
