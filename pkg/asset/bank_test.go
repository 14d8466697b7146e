// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asset

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/amm/pkg/ids"
)

func TestBankTransfer(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	alice := ids.GenerateTestID()
	bob := ids.GenerateTestID()

	bank.Mint(assetX, alice, uint256.NewInt(1000))
	require.Equal(uint256.NewInt(1000), bank.BalanceOf(assetX, alice))
	require.True(bank.BalanceOf(assetX, bob).IsZero())

	require.NoError(bank.Transfer(assetX, alice, bob, uint256.NewInt(300)))
	require.Equal(uint256.NewInt(700), bank.BalanceOf(assetX, alice))
	require.Equal(uint256.NewInt(300), bank.BalanceOf(assetX, bob))
}

func TestBankTransferInsufficient(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	alice := ids.GenerateTestID()
	bob := ids.GenerateTestID()

	bank.Mint(assetX, alice, uint256.NewInt(100))

	err := bank.Transfer(assetX, alice, bob, uint256.NewInt(101))
	require.ErrorIs(err, ErrInsufficientBalance)

	// Unknown asset behaves like a zero balance
	err = bank.Transfer(ids.GenerateTestID(), alice, bob, uint256.NewInt(1))
	require.ErrorIs(err, ErrInsufficientBalance)

	// Failed transfers move nothing
	require.Equal(uint256.NewInt(100), bank.BalanceOf(assetX, alice))
}

func TestBankTransferZeroAmount(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	alice := ids.GenerateTestID()
	bank.Mint(assetX, alice, uint256.NewInt(100))

	err := bank.Transfer(assetX, alice, ids.GenerateTestID(), uint256.NewInt(0))
	require.ErrorIs(err, ErrZeroAmount)
	err = bank.Transfer(assetX, alice, ids.GenerateTestID(), nil)
	require.ErrorIs(err, ErrZeroAmount)
}

func TestBankBalancesIsolatedPerAsset(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	assetY := ids.GenerateTestID()
	alice := ids.GenerateTestID()

	bank.Mint(assetX, alice, uint256.NewInt(10))
	bank.Mint(assetY, alice, uint256.NewInt(20))

	require.Equal(uint256.NewInt(10), bank.BalanceOf(assetX, alice))
	require.Equal(uint256.NewInt(20), bank.BalanceOf(assetY, alice))
}

func TestBankRollbackRestoresBalances(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	alice := ids.GenerateTestID()
	bob := ids.GenerateTestID()
	carol := ids.GenerateTestID()

	bank.Mint(assetX, alice, uint256.NewInt(1000))

	// Alice pays Bob, Bob forwards most of it to Carol, a mint lands on
	// Carol; rollback reverses all three, newest first.
	mark := bank.Checkpoint()
	require.NoError(bank.Transfer(assetX, alice, bob, uint256.NewInt(600)))
	require.NoError(bank.Transfer(assetX, bob, carol, uint256.NewInt(500)))
	bank.Mint(assetX, carol, uint256.NewInt(42))
	bank.Rollback(mark)

	require.Equal(uint256.NewInt(1000), bank.BalanceOf(assetX, alice))
	require.True(bank.BalanceOf(assetX, bob).IsZero())
	require.True(bank.BalanceOf(assetX, carol).IsZero())
}

func TestBankCommitKeepsMovements(t *testing.T) {
	require := require.New(t)
	bank := NewBank()

	assetX := ids.GenerateTestID()
	alice := ids.GenerateTestID()
	bob := ids.GenerateTestID()
	bank.Mint(assetX, alice, uint256.NewInt(100))

	mark := bank.Checkpoint()
	require.NoError(bank.Transfer(assetX, alice, bob, uint256.NewInt(40)))
	bank.Commit(mark)

	require.Equal(uint256.NewInt(60), bank.BalanceOf(assetX, alice))
	require.Equal(uint256.NewInt(40), bank.BalanceOf(assetX, bob))

	// A later rollback cannot reach committed movements
	mark = bank.Checkpoint()
	bank.Rollback(mark)
	require.Equal(uint256.NewInt(40), bank.BalanceOf(assetX, bob))
}
