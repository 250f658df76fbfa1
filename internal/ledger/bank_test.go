package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000e5c40")
)

func TestBank_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves value between accounts", func(t *testing.T) {
		bank := NewBank()
		require.NoError(t, bank.Credit(alice, big.NewInt(100)))

		require.NoError(t, bank.Transfer(ctx, alice, bob, big.NewInt(40)))
		assert.Equal(t, int64(60), bank.Balance(alice).Int64())
		assert.Equal(t, int64(40), bank.Balance(bob).Int64())
	})

	t.Run("insufficient funds changes nothing", func(t *testing.T) {
		bank := NewBank()
		require.NoError(t, bank.Credit(alice, big.NewInt(10)))

		err := bank.Transfer(ctx, alice, bob, big.NewInt(11))
		require.True(t, errors.Is(err, ErrInsufficientFunds))
		assert.Equal(t, int64(10), bank.Balance(alice).Int64())
		assert.Zero(t, bank.Balance(bob).Sign())
	})

	t.Run("rejecting recipient changes nothing", func(t *testing.T) {
		bank := NewBank()
		require.NoError(t, bank.Credit(alice, big.NewInt(10)))
		bank.Reject(bob, true)

		err := bank.Transfer(ctx, alice, bob, big.NewInt(5))
		require.True(t, errors.Is(err, ErrTransferRejected))
		assert.Equal(t, int64(10), bank.Balance(alice).Int64())

		bank.Reject(bob, false)
		require.NoError(t, bank.Transfer(ctx, alice, bob, big.NewInt(5)))
		assert.Equal(t, int64(5), bank.Balance(bob).Int64())
	})

	t.Run("negative amounts are refused", func(t *testing.T) {
		bank := NewBank()
		assert.ErrorIs(t, bank.Credit(alice, big.NewInt(-1)), ErrInvalidAmount)
		assert.ErrorIs(t, bank.Transfer(ctx, alice, bob, big.NewInt(-1)), ErrInvalidAmount)
	})

	t.Run("balance is a copy", func(t *testing.T) {
		bank := NewBank()
		require.NoError(t, bank.Credit(alice, big.NewInt(7)))
		bank.Balance(alice).SetInt64(1000)
		assert.Equal(t, int64(7), bank.Balance(alice).Int64())
	})
}

func TestEscrow(t *testing.T) {
	ctx := context.Background()
	bank := NewBank()
	require.NoError(t, bank.Credit(alice, big.NewInt(30)))
	e := NewEscrow(bank, escrow)

	require.NoError(t, e.Collect(ctx, alice, big.NewInt(30)))
	assert.Equal(t, int64(30), e.Held().Int64())

	require.NoError(t, e.Disburse(ctx, bob, big.NewInt(30)))
	assert.Zero(t, e.Held().Sign())
	assert.Equal(t, int64(30), bank.Balance(bob).Int64())
}
