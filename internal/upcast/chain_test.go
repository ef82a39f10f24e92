package upcast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/domain"
)

func TestChain_UpcastsToCurrentRevision(t *testing.T) {
	chain := DefaultChain(NewSkuLookup(map[string]string{"p-1": "ESP-001"}))

	tests := []struct {
		name      string
		eventType domain.EventType
		revision  string
		payload   string
		wantRev   string
		want      string
	}{
		{
			name:      "item price from missing revision",
			eventType: domain.EventItemAddedToOrder,
			revision:  "",
			payload:   `{"orderId":"o-1","productId":"p-1","productName":"Espresso","quantity":2,"price":3.5}`,
			wantRev:   "2",
			want:      `{"orderId":"o-1","productId":"p-1","productName":"Espresso","quantity":2,"price":{"amount":3.5,"currency":"USD"}}`,
		},
		{
			name:      "order total",
			eventType: domain.EventOrderSubmitted,
			revision:  "1",
			payload:   `{"orderId":"o-1","totalAmount":7.58}`,
			wantRev:   "2",
			want:      `{"orderId":"o-1","totalAmount":{"amount":7.58,"currency":"USD"}}`,
		},
		{
			name:      "payment amount",
			eventType: domain.EventPaymentCreated,
			revision:  "1",
			payload:   `{"id":"pay-1","orderId":"o-1","amount":"13.13"}`,
			wantRev:   "2",
			want:      `{"id":"pay-1","orderId":"o-1","amount":{"amount":"13.13","currency":"USD"}}`,
		},
		{
			name:      "product from revision 1 gets sku from csv and money price",
			eventType: domain.EventProductCreated,
			revision:  "1",
			payload:   `{"id":"p-1","name":"Espresso","description":"","price":3}`,
			wantRev:   "3",
			want:      `{"id":"p-1","name":"Espresso","description":"","price":{"amount":3,"currency":"USD"},"sku":"ESP-001"}`,
		},
		{
			name:      "product from revision 2 keeps its sku",
			eventType: domain.EventProductCreated,
			revision:  "2",
			payload:   `{"id":"p-9","name":"Mocha","description":"","price":4,"sku":"MOC-7"}`,
			wantRev:   "3",
			want:      `{"id":"p-9","name":"Mocha","description":"","price":{"amount":4,"currency":"USD"},"sku":"MOC-7"}`,
		},
		{
			name:      "current payload untouched",
			eventType: domain.EventPaymentCreated,
			revision:  "2",
			payload:   `{"id":"pay-1","orderId":"o-1","amount":{"amount":"1.00","currency":"USD"}}`,
			wantRev:   "2",
			want:      `{"id":"pay-1","orderId":"o-1","amount":{"amount":"1.00","currency":"USD"}}`,
		},
		{
			name:      "type without rules",
			eventType: domain.EventOrderCreated,
			revision:  "",
			payload:   `{"id":"o-1","customerId":"c-1"}`,
			wantRev:   "1",
			want:      `{"id":"o-1","customerId":"c-1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, out := chain.Upcast(tt.eventType, tt.revision, []byte(tt.payload))
			assert.Equal(t, tt.wantRev, rev)
			assert.JSONEq(t, tt.want, string(out))

			again, twice := chain.Upcast(tt.eventType, rev, out)
			assert.Equal(t, rev, again)
			assert.JSONEq(t, string(out), string(twice))
		})
	}
}

func TestChain_RulesAreIdempotentOnOwnOutput(t *testing.T) {
	apply := moneyField("price")
	once := apply([]byte(`{"price":2.25}`))
	assert.JSONEq(t, string(once), string(apply(once)))

	missing := apply([]byte(`{"id":"x"}`))
	assert.JSONEq(t, `{"id":"x","price":{"amount":"0","currency":"USD"}}`, string(missing))
}

func TestChain_DecodesIntoCurrentEvent(t *testing.T) {
	chain := DefaultChain(NewSkuLookup(nil))
	_, out := chain.Upcast(domain.EventProductCreated, "", []byte(`{"id":"p-2","name":"Latte","description":"milk","price":4.5}`))

	var decode func([]byte) (domain.Event, error)
	for _, d := range domain.Descriptors() {
		if d.Type == domain.EventProductCreated {
			decode = d.Decode
		}
	}
	require.NotNil(t, decode)

	ev, err := decode(out)
	require.NoError(t, err)
	created := ev.(domain.ProductCreated)
	assert.Equal(t, "LAT-LEGACY", created.SKU)
	assert.Equal(t, "4.50 USD", created.Price.String())
}

func TestNewChain_RejectsBadRegistrations(t *testing.T) {
	noop := func(b []byte) []byte { return b }

	_, err := NewChain(
		Rule{EventType: domain.EventOrderCreated, From: "1", To: "2", Apply: noop},
		Rule{EventType: domain.EventOrderCreated, From: "", To: "3", Apply: noop},
	)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "duplicate"))

	_, err = NewChain(
		Rule{EventType: domain.EventOrderCreated, From: "1", To: "2", Apply: noop},
		Rule{EventType: domain.EventOrderCreated, From: "2", To: "1", Apply: noop},
	)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cycle"))

	_, err = NewChain(Rule{EventType: domain.EventOrderCreated, From: "1", To: "1", Apply: noop})
	require.Error(t, err)

	_, err = NewChain(Rule{EventType: domain.EventOrderCreated, From: "1", To: "2"})
	require.Error(t, err)
}

func TestChain_CanUpcast(t *testing.T) {
	chain := DefaultChain(nil)
	assert.True(t, chain.CanUpcast(domain.EventProductCreated, ""))
	assert.True(t, chain.CanUpcast(domain.EventProductCreated, "2"))
	assert.False(t, chain.CanUpcast(domain.EventProductCreated, "3"))
	assert.False(t, chain.CanUpcast(domain.EventOrderCreated, "1"))
	assert.Equal(t, 6, chain.Len())
}
