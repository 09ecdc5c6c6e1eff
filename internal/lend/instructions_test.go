package lend

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositInstructionLayout(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	userTokenAccount := solana.NewWallet().PublicKey()

	ix, err := NewDepositInstruction(programID, user, mint, userTokenAccount, 1_234_567)
	require.NoError(t, err)
	assert.Equal(t, programID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, ixDeposit[:], data[:8])
	assert.Equal(t, uint64(1_234_567), binary.LittleEndian.Uint64(data[8:]))

	protocolState, _, err := DeriveProtocolStatePDA(programID)
	require.NoError(t, err)
	market, _, err := DeriveMarketPDA(programID, mint)
	require.NoError(t, err)
	supplyVault, _, err := DeriveSupplyVaultPDA(programID, market)
	require.NoError(t, err)
	userPosition, _, err := DeriveUserPositionPDA(programID, user, market)
	require.NoError(t, err)

	accounts := ix.Accounts()
	require.Len(t, accounts, 9)

	// Position is the wire contract: the program resolves accounts by
	// index, not by address.
	expected := []solana.PublicKey{
		user, protocolState, market, supplyVault, userPosition,
		userTokenAccount, mint, solana.TokenProgramID, solana.SystemProgramID,
	}
	for i, meta := range accounts {
		assert.Equal(t, expected[i], meta.PublicKey, "account %d", i)
	}

	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[0].IsWritable)
	assert.False(t, accounts[1].IsWritable, "protocol state is read-only")
	assert.True(t, accounts[2].IsWritable, "market is mutated")
	assert.False(t, accounts[7].IsSigner)
}

func TestWithdrawInstructionLayout(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	userTokenAccount := solana.NewWallet().PublicKey()

	ix, err := NewWithdrawInstruction(programID, user, mint, userTokenAccount, 55)
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, ixWithdraw[:], data[:8])
	assert.Equal(t, uint64(55), binary.LittleEndian.Uint64(data[8:]))
	assert.Len(t, ix.Accounts(), 8)
}

func TestBorrowInstructionLayout(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	params := BorrowParams{
		ProgramID:             programID,
		Borrower:              solana.NewWallet().PublicKey(),
		CollateralMint:        solana.NewWallet().PublicKey(),
		BorrowMint:            solana.NewWallet().PublicKey(),
		UserTokenAccount:      solana.NewWallet().PublicKey(),
		CollateralPriceUpdate: solana.NewWallet().PublicKey(),
		BorrowPriceUpdate:     solana.NewWallet().PublicKey(),
		CollateralShares:      10_000,
		BorrowAmount:          7_500,
	}

	ix, err := NewBorrowInstruction(params)
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 24)
	assert.Equal(t, ixBorrow[:], data[:8])
	assert.Equal(t, uint64(10_000), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(7_500), binary.LittleEndian.Uint64(data[16:24]))

	accounts := ix.Accounts()
	require.Len(t, accounts, 13)

	collateralMarket, _, err := DeriveMarketPDA(programID, params.CollateralMint)
	require.NoError(t, err)
	borrowMarket, _, err := DeriveMarketPDA(programID, params.BorrowMint)
	require.NoError(t, err)
	loan, _, err := DeriveLoanPDA(programID, collateralMarket, borrowMarket, params.Borrower)
	require.NoError(t, err)

	assert.Equal(t, collateralMarket, accounts[2].PublicKey)
	assert.Equal(t, borrowMarket, accounts[3].PublicKey)
	assert.Equal(t, loan, accounts[5].PublicKey)
	assert.Equal(t, params.CollateralPriceUpdate, accounts[9].PublicKey)
	assert.Equal(t, params.BorrowPriceUpdate, accounts[10].PublicKey)
	assert.False(t, accounts[9].IsWritable, "price updates are read-only")
}

func TestRepayInstructionLayout(t *testing.T) {
	params := RepayParams{
		ProgramID:        solana.NewWallet().PublicKey(),
		Borrower:         solana.NewWallet().PublicKey(),
		CollateralMint:   solana.NewWallet().PublicKey(),
		BorrowMint:       solana.NewWallet().PublicKey(),
		UserTokenAccount: solana.NewWallet().PublicKey(),
		Amount:           31337,
	}

	ix, err := NewRepayInstruction(params)
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	assert.Equal(t, ixRepay[:], data[:8])
	assert.Equal(t, uint64(31337), binary.LittleEndian.Uint64(data[8:]))
	assert.Len(t, ix.Accounts(), 10)
}

func TestInstructionsRejectZeroAmounts(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	pk := solana.NewWallet().PublicKey()

	_, err := NewDepositInstruction(programID, pk, pk, pk, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewWithdrawInstruction(programID, pk, pk, pk, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewBorrowInstruction(BorrowParams{ProgramID: programID, CollateralShares: 0, BorrowAmount: 1})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewBorrowInstruction(BorrowParams{ProgramID: programID, CollateralShares: 1, BorrowAmount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewRepayInstruction(RepayParams{ProgramID: programID, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInstructionDiscriminatorsAreDistinct(t *testing.T) {
	all := [][8]byte{ixInitProtocolState, ixInitMarket, ixDeposit, ixWithdraw, ixBorrow, ixRepay}
	seen := make(map[[8]byte]bool, len(all))
	for _, discriminator := range all {
		assert.False(t, seen[discriminator])
		seen[discriminator] = true
	}
}
