package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient("TEST-token", WithBaseURL(srv.URL))
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("  ")
	require.ErrorIs(t, err, errAccessTokenRequired)
}

func TestCreatePreferenceSendsItemsAsNumbers(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.test/checkout?pref=pref-1"}`))
	})

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items: []PreferenceItem{
			{ID: "p1", Title: "Mate", Quantity: 2, UnitPrice: decimal.NewFromInt(1000), CurrencyID: "ARS"},
		},
		ExternalReference: "order-1",
		BackURLs:          BackURLs{Success: "https://shop.test/ok?order_id=order-1"},
		NotificationURL:   "https://api.shop.test/api/v1/webhooks/mercadopago",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://mp.test/checkout?pref=pref-1", pref.RedirectURL())

	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, float64(1000), item["unit_price"])
	assert.Equal(t, float64(2), item["quantity"])
	assert.Equal(t, "order-1", body["external_reference"])
}

func TestCreatePreferenceMapsGatewayFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom","error":"internal_error"}`))
	})

	_, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items: []PreferenceItem{{Title: "Mate", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestGetPaymentAcceptsNumericID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":123456,"status":"approved","external_reference":"order-9","transaction_amount":7990.5}`))
	})

	payment, err := client.GetPayment(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, FlexibleID("123456"), payment.ID)
	assert.True(t, payment.Approved())
	assert.Equal(t, "order-9", payment.ExternalReference)
	assert.True(t, payment.TransactionAmount.Equal(decimal.RequireFromString("7990.5")))
}

func TestGetPaymentNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found","error":"not_found"}`))
	})

	_, err := client.GetPayment(context.Background(), "1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSearchPaymentsByReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/search", r.URL.Path)
		assert.Equal(t, "order-3", r.URL.Query().Get("external_reference"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"77","status":"rejected"},{"id":78,"status":"approved"}],"paging":{"total":2}}`))
	})

	payments, err := client.SearchPaymentsByReference(context.Background(), "order-3")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, FlexibleID("77"), payments[0].ID)
	assert.True(t, payments[1].Approved())
}

func TestFlexibleIDRejectsFractions(t *testing.T) {
	var id FlexibleID
	require.Error(t, json.Unmarshal([]byte(`12.5`), &id))
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Empty(t, id)
}
