package lend

import (
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarket() *Market {
	return &Market{
		Mint:                 solana.NewWallet().PublicKey(),
		SupplyVault:          solana.NewWallet().PublicKey(),
		SharesMint:           solana.NewWallet().PublicKey(),
		DebtMint:             solana.NewWallet().PublicKey(),
		TotalDeposits:        1_000_000_000,
		TotalDepositedShares: 900_000_000,
		TotalBorrowedShares:  450_000_000,
		TotalBorrows:         500_000_000,
		TotalReserves:        12_345,
		LastUpdateTs:         1_756_600_000,
		SupplyIndex:          bin.Uint128{Lo: 1_050_000_000_000_000_000, Hi: 0},
		BorrowIndex:          bin.Uint128{Lo: 2, Hi: 1},
		MaxLtvBps:            5000,
		LiqThresholdBps:      8000,
		LiqPenaltyBps:        500,
		ReserveFactorBps:     1000,
		MinDeposit:           1_000,
		MaxDeposit:           10_000_000_000_000,
		MinBorrow:            5_000,
		MaxBorrow:            5_000_000_000_000,
		LastWithdrawReset:    1_756_500_000,
		DepositSnapshot:      777_000,
		DepositFeeBps:        10,
		WithdrawFeeBps:       20,
		BorrowFeeBps:         30,
		RepayFeeBps:          40,
		Paused:               true,
		Bump:                 254,
	}
}

func TestMarketRoundTrip(t *testing.T) {
	original := sampleMarket()
	data := original.Encode()
	require.Len(t, data, MarketSize)

	decoded, err := ParseMarket(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Mutate a field through the layout and check the new value lands at
	// its documented offset and nowhere else.
	decoded.TotalBorrows = 999
	reencoded := decoded.Encode()
	assert.Equal(t, uint64(999), u64At(reencoded, 160))

	again, err := ParseMarket(reencoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, again)
}

func TestUserPositionRoundTrip(t *testing.T) {
	original := &UserPosition{
		Owner:            solana.NewWallet().PublicKey(),
		Market:           solana.NewWallet().PublicKey(),
		DepositedShares:  123_456_789,
		LockedCollateral: 23_456_789,
		BorrowedShares:   7_000,
		DepositIndex:     bin.Uint128{Lo: 11, Hi: 0},
		BorrowIndex:      bin.Uint128{Lo: 22, Hi: 3},
		Bump:             251,
	}

	data := original.Encode()
	require.Len(t, data, UserPositionSize)

	decoded, err := ParseUserPosition(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.LessOrEqual(t, decoded.LockedCollateral, decoded.DepositedShares)
}

func TestLoanRoundTrip(t *testing.T) {
	original := &Loan{
		Borrower:                  solana.NewWallet().PublicKey(),
		LoanID:                    42,
		CollateralMarket:          solana.NewWallet().PublicKey(),
		CollateralAmount:          500_000_000,
		BorrowMarket:              solana.NewWallet().PublicKey(),
		BorrowedAmount:            100_000_000,
		BorrowedUnderlying:        105_000_000,
		UserPosition:              solana.NewWallet().PublicKey(),
		CurrentMarket:             solana.NewWallet().PublicKey(),
		CurrentPositionValue:      106_000_000,
		Integration:               solana.NewWallet().PublicKey(),
		IntegrationSharesReceived: 99,
		SpendStatus:               1,
		LifecycleStatus:           2,
		CreatedAt:                 1_756_000_000,
		UpdatedAt:                 1_756_600_000,
		Bump:                      253,
	}

	data := original.Encode()
	require.Len(t, data, LoanSize)

	decoded, err := ParseLoan(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Signed timestamps survive the i64 path.
	decoded.CreatedAt = -1
	again, err := ParseLoan(decoded.Encode())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), again.CreatedAt)
}

func TestProtocolStateRoundTrip(t *testing.T) {
	original := &ProtocolState{
		Admin:        solana.NewWallet().PublicKey(),
		FeeCollector: solana.NewWallet().PublicKey(),
		Bump:         255,
	}

	decoded, err := ParseProtocolState(original.Encode())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestParseRejectsWrongDiscriminator(t *testing.T) {
	market := sampleMarket().Encode()
	position := (&UserPosition{}).Encode()
	loan := (&Loan{}).Encode()
	state := (&ProtocolState{}).Encode()

	// Every kind must reject a buffer tagged as a different kind, even
	// when the buffer is long enough.
	padded := func(data []byte, size int) []byte {
		out := make([]byte, size)
		copy(out, data)
		return out
	}

	_, err := ParseMarket(padded(loan, MarketSize))
	assert.ErrorIs(t, err, ErrBadDiscriminator)

	_, err = ParseUserPosition(padded(market, UserPositionSize))
	assert.ErrorIs(t, err, ErrBadDiscriminator)

	_, err = ParseLoan(padded(state, LoanSize))
	assert.ErrorIs(t, err, ErrBadDiscriminator)

	_, err = ParseProtocolState(padded(position, ProtocolStateSize))
	assert.ErrorIs(t, err, ErrBadDiscriminator)
}

func TestParseRejectsShortBuffers(t *testing.T) {
	market := sampleMarket().Encode()

	_, err := ParseMarket(market[:MarketSize-1])
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = ParseUserPosition((&UserPosition{}).Encode()[:UserPositionSize-8])
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = ParseLoan((&Loan{}).Encode()[:100])
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = ParseProtocolState(nil)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestShareConversions(t *testing.T) {
	market := &Market{
		TotalDeposits:        2_000_000_000,
		TotalDepositedShares: 1_000_000_000,
	}

	// 1 share is worth 2 base units at this exchange rate.
	assert.Equal(t, uint64(200), market.UnderlyingFromShares(100))
	assert.Equal(t, uint64(100), market.SharesFromUnderlying(200))

	// Floor, not round.
	assert.Equal(t, uint64(0), market.SharesFromUnderlying(1))

	empty := &Market{}
	assert.Equal(t, uint64(0), empty.UnderlyingFromShares(100))
	assert.Equal(t, uint64(100), empty.SharesFromUnderlying(100))
}

func TestDiscriminatorsAreDistinct(t *testing.T) {
	all := [][8]byte{
		DiscriminatorProtocolState,
		DiscriminatorMarket,
		DiscriminatorUserPosition,
		DiscriminatorLoan,
	}
	seen := make(map[[8]byte]bool, len(all))
	for _, discriminator := range all {
		assert.False(t, seen[discriminator])
		seen[discriminator] = true
	}
}
