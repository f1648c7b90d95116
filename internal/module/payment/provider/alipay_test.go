package provider

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYuanToMinor(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0.01", 1},
		{"1.00", 100},
		{"899.99", 89999},
		{"1200", 120000},
		{"", 0},
		{"not a number", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, yuanToMinor(tt.in), "amount %q", tt.in)
	}
}

func TestDecodePassbackParams(t *testing.T) {
	raw, err := json.Marshal((&Metadata{
		UserID:        12,
		Kind:          KindInstallment,
		TransactionID: 33,
	}).Encode())
	require.NoError(t, err)

	// As written at session creation: url-escaped JSON.
	meta := decodePassbackParams(url.QueryEscape(string(raw)))
	assert.Equal(t, uint(12), meta.UserID)
	assert.Equal(t, KindInstallment, meta.Kind)
	assert.Equal(t, uint(33), meta.TransactionID)

	// Some callbacks hand the value back already unescaped.
	meta = decodePassbackParams(string(raw))
	assert.Equal(t, uint(12), meta.UserID)
}

func TestDecodePassbackParamsGarbage(t *testing.T) {
	meta := decodePassbackParams("%%%not-json%%%")
	assert.Zero(t, meta.UserID)

	meta = decodePassbackParams("")
	assert.Zero(t, meta.UserID)
}
