package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount float64
		code   string
		want   string
	}{
		{1000, "JPY", "1000"},
		{10.5, "USD", "10.50"},
		{1.234, "KWD", "1.234"},
		{1.5, "krw", "2"},
		{0.125, "EUR", "0.13"},
		{2, "BHD", "2.000"},
		{99.999, "SAR", "100.00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatAmount(tc.amount, tc.code), "%v %s", tc.amount, tc.code)
	}
}

func TestTable_WithExtendsWithoutMutatingDefault(t *testing.T) {
	custom := Default().With("XBT", 8)

	assert.Equal(t, "0.00000001", custom.Format(0.00000001, "XBT"))
	assert.Equal(t, int32(2), Default().Places("XBT"))
	assert.Equal(t, int32(0), custom.Places("JPY"))
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "12.345", Default().FormatDecimal(decimal.RequireFromString("12.3451"), "OMR"))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 10.50 ")
	require.NoError(t, err)
	assert.Equal(t, 10.5, v)

	_, err = ParseAmount("ten")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("usd"))
	assert.False(t, Valid("US"))
	assert.False(t, Valid("U5D"))
}
