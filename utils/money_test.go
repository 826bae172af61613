package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMoneyScale(t *testing.T) {
	usd, err := NewMoney("usd")
	require.NoError(t, err)
	require.Equal(t, "USD", usd.Code)
	require.Equal(t, int64(3300), usd.ToMinor(decimal.RequireFromString("33")))
	require.Equal(t, int64(101), usd.ToMinor(decimal.RequireFromString("1.005")))
	require.Equal(t, "16.50 USD", usd.Format(1650))

	jpy, err := NewMoney("JPY")
	require.NoError(t, err)
	require.Equal(t, int64(33), jpy.ToMinor(decimal.RequireFromString("33")))
	require.Equal(t, "1650 JPY", jpy.Format(1650))

	_, err = NewMoney("XXXX")
	require.Error(t, err)
}
