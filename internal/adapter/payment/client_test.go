package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

func TestCreatePaymentLink_Success(t *testing.T) {
	var got domain.PaymentLinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment-links", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://pay.example.com/l/abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "sk_test", time.Second)
	url, err := c.CreatePaymentLink(context.Background(), domain.PaymentLinkRequest{
		Amount:      2599,
		Currency:    "PHP",
		Description: "Order o-1",
		Metadata:    map[string]string{"orderId": "o-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/l/abc", url)
	assert.Equal(t, int64(2599), got.Amount)
	assert.Equal(t, "o-1", got.Metadata["orderId"])
}

func TestCreatePaymentLink_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"message":"amount too small"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).CreatePaymentLink(context.Background(), domain.PaymentLinkRequest{Amount: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "amount too small")
}

func TestCreatePaymentLink_GarbageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).CreatePaymentLink(context.Background(), domain.PaymentLinkRequest{Amount: 100})
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestCreatePaymentLink_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 20*time.Millisecond).CreatePaymentLink(context.Background(), domain.PaymentLinkRequest{Amount: 100})
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
