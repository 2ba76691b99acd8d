package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vendezap/pixstore-bot/internal/models"
)

func TestValidateFee(t *testing.T) {
	fee := func(name, amount string) *models.Fee {
		return &models.Fee{Name: name, Amount: decimal.RequireFromString(amount)}
	}

	require.NoError(t, validateFee(fee("Taxa de saque", "19.90")))
	require.NoError(t, validateFee(fee("Taxa", "999999.99")))
	require.NoError(t, validateFee(fee("Taxa", "0.01")))

	require.ErrorIs(t, validateFee(fee("", "19.90")), ErrInvalidName)
	require.ErrorIs(t, validateFee(fee("Taxa", "0")), ErrInvalidFee)
	require.ErrorIs(t, validateFee(fee("Taxa", "-5")), ErrInvalidFee)
	require.ErrorIs(t, validateFee(fee("Taxa", "1000000.00")), ErrInvalidFee)
}

func TestValidateNameLength(t *testing.T) {
	long := make([]rune, 101)
	for i := range long {
		long[i] = 'ç'
	}
	require.ErrorIs(t, validateName(string(long)), ErrInvalidName)
	require.NoError(t, validateName(string(long[:100])))
}

func TestSamePermutation(t *testing.T) {
	require.True(t, samePermutation([]int64{1, 2, 3}, []int64{3, 1, 2}))
	require.True(t, samePermutation(nil, nil))

	require.False(t, samePermutation([]int64{1, 2, 3}, []int64{1, 2}))
	require.False(t, samePermutation([]int64{1, 2, 3}, []int64{1, 2, 4}))
	require.False(t, samePermutation([]int64{1, 2, 3}, []int64{1, 2, 2}))
}
