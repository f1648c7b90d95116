package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry("paystack")
	paystack := &fakeProvider{name: "paystack"}
	stripe := &fakeProvider{name: "stripe"}
	registry.Register(paystack)
	registry.Register(stripe)

	got, err := registry.Get("stripe")
	require.NoError(t, err)
	assert.Equal(t, "stripe", got.Name())

	// Empty name selects the default provider.
	got, err = registry.Get("")
	require.NoError(t, err)
	assert.Equal(t, "paystack", got.Name())

	_, err = registry.Get("wechat")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	assert.ElementsMatch(t, []string{"paystack", "stripe"}, registry.List())
}

func TestProviderRegistryEmpty(t *testing.T) {
	registry := NewProviderRegistry("paystack")

	_, err := registry.Get("")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Empty(t, registry.List())
}
