package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

func TestProduct_CreateUpdateDelete(t *testing.T) {
	env := testEnv()
	var state Product

	events, err := DecideProduct(state, CreateProduct{ID: "P1", Name: "Latte", Price: MustUSD("4.50")}, env)
	require.NoError(t, err)
	created := events[0].(ProductCreated)
	assert.Equal(t, "LAT-LEGACY", created.SKU)

	state, err = EvolveProduct(state, created)
	require.NoError(t, err)
	assert.True(t, state.Active)

	events, err = DecideProduct(state, UpdateProduct{ID: "P1", Name: "Oat Latte", Price: MustUSD("5")}, env)
	require.NoError(t, err)
	state, err = EvolveProduct(state, events[0])
	require.NoError(t, err)
	assert.Equal(t, "Oat Latte", state.Name)
	assert.Equal(t, "5.00 USD", state.Price.String())

	events, err = DecideProduct(state, DeleteProduct{ID: "P1"}, env)
	require.NoError(t, err)
	state, err = EvolveProduct(state, events[0])
	require.NoError(t, err)
	assert.False(t, state.Active)

	events, err = DecideProduct(state, UpdateProduct{ID: "P1", Name: "Latte", Price: MustUSD("4")}, env)
	require.Error(t, err)
	assert.Empty(t, events)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidStateTransition, appErr.Code)

	_, err = DecideProduct(state, DeleteProduct{ID: "P1"}, env)
	require.Error(t, err)
}

func TestProduct_ExplicitSKUKept(t *testing.T) {
	events, err := DecideProduct(Product{}, CreateProduct{ID: "P1", Name: "Mocha", Price: MustUSD("4"), SKU: " MOC-001 "}, testEnv())
	require.NoError(t, err)
	assert.Equal(t, "MOC-001", events[0].(ProductCreated).SKU)
}

func TestNameBasedSKU(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Espresso", "ESP-LEGACY"},
		{"Cappuccino", "CAP-LEGACY"},
		{"ab", "AB-LEGACY"},
		{"7-Up", "7U-LEGACY"},
		{"***", "UNK-LEGACY"},
		{"", "UNK-LEGACY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NameBasedSKU(tt.name))
		})
	}
}

func TestDescriptors_Unique(t *testing.T) {
	seen := map[EventType]bool{}
	for _, d := range Descriptors() {
		require.False(t, seen[d.Type], "duplicate descriptor %s", d.Type)
		seen[d.Type] = true

		zero, err := d.Decode([]byte(`{}`))
		require.NoError(t, err, d.Type)
		assert.Equal(t, d.Type, zero.EventType())
	}
	assert.Len(t, seen, 14)
}
