package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataEncodeDecode(t *testing.T) {
	meta := &Metadata{
		UserID:            42,
		Email:             "ada@example.test",
		Kind:              KindInstallment,
		ItemID:            7,
		TransactionID:     101,
		InstallmentNumber: 3,
		Quantity:          2,
		DeliveryAddress:   "12 Bode Thomas St, Lagos",
		Notes:             "gold buttons",
	}

	encoded := meta.Encode()
	raw := make(map[string]any, len(encoded))
	for k, v := range encoded {
		raw[k] = v
	}

	decoded := DecodeMetadata(raw)
	assert.Equal(t, meta, decoded)
}

func TestMetadataEncodeOmitsZeroFields(t *testing.T) {
	meta := &Metadata{UserID: 1, Kind: KindOneTime}
	encoded := meta.Encode()

	require.Contains(t, encoded, "user_id")
	require.Contains(t, encoded, "kind")
	assert.NotContains(t, encoded, "item_id")
	assert.NotContains(t, encoded, "transaction_id")
	assert.NotContains(t, encoded, "installment_number")
	assert.NotContains(t, encoded, "quantity")
}

func TestDecodeMetadataNumericValues(t *testing.T) {
	// JSON unmarshaling hands numbers back as float64.
	decoded := DecodeMetadata(map[string]any{
		"user_id":            float64(9),
		"kind":               "item",
		"item_id":            float64(4),
		"transaction_id":     float64(55),
		"installment_number": float64(2),
		"quantity":           float64(3),
	})

	assert.Equal(t, uint(9), decoded.UserID)
	assert.Equal(t, KindItem, decoded.Kind)
	assert.Equal(t, uint(4), decoded.ItemID)
	assert.Equal(t, uint(55), decoded.TransactionID)
	assert.Equal(t, 2, decoded.InstallmentNumber)
	assert.Equal(t, 3, decoded.Quantity)
}

func TestDecodeMetadataNil(t *testing.T) {
	decoded := DecodeMetadata(nil)
	assert.Zero(t, decoded.UserID)
	assert.Equal(t, 1, decoded.Quantity)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindOneTime.Valid())
	assert.True(t, KindSubscription.Valid())
	assert.True(t, KindInstallment.Valid())
	assert.True(t, KindItem.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("raffle").Valid())
}
