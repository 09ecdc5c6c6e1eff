package lend

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrBadDiscriminator is returned when the first 8 bytes of an account
	// buffer do not match the expected tag for the requested record kind.
	ErrBadDiscriminator = errors.New("account discriminator mismatch")
	// ErrTooShort is returned when an account buffer is smaller than the
	// fixed size of the requested record kind.
	ErrTooShort = errors.New("account data too short")
)

// Anchor account discriminators: sha256("account:<Name>")[:8].
var (
	DiscriminatorProtocolState = accountDiscriminator("ProtocolState")
	DiscriminatorMarket        = accountDiscriminator("Market")
	DiscriminatorUserPosition  = accountDiscriminator("UserPosition")
	DiscriminatorLoan          = accountDiscriminator("Loan")
)

// Fixed account sizes, discriminator included. Every record is a fixed
// layout with no optional or variable-length fields.
const (
	ProtocolStateSize = 73
	MarketSize        = 330
	UserPositionSize  = 129
	LoanSize          = 267
)

// ProtocolState is the singleton configuration account. Its address is
// derived from a constant seed, so exactly one exists per deployment.
type ProtocolState struct {
	Admin        solana.PublicKey
	FeeCollector solana.PublicKey
	Bump         uint8
}

// Market is the per-asset pool account. Indexes are 128-bit fixed-point
// accumulators and only ever grow; all rate-like parameters are basis
// points.
type Market struct {
	Mint                 solana.PublicKey
	SupplyVault          solana.PublicKey
	SharesMint           solana.PublicKey
	DebtMint             solana.PublicKey
	TotalDeposits        uint64
	TotalDepositedShares uint64
	TotalBorrowedShares  uint64
	TotalBorrows         uint64
	TotalReserves        uint64
	LastUpdateTs         int64
	SupplyIndex          bin.Uint128
	BorrowIndex          bin.Uint128
	MaxLtvBps            uint64
	LiqThresholdBps      uint64
	LiqPenaltyBps        uint64
	ReserveFactorBps     uint64
	MinDeposit           uint64
	MaxDeposit           uint64
	MinBorrow            uint64
	MaxBorrow            uint64
	LastWithdrawReset    int64
	DepositSnapshot      uint64
	DepositFeeBps        uint64
	WithdrawFeeBps       uint64
	BorrowFeeBps         uint64
	RepayFeeBps          uint64
	Paused               bool
	Bump                 uint8
}

// UserPosition tracks one user's stake in one market.
type UserPosition struct {
	Owner            solana.PublicKey
	Market           solana.PublicKey
	DepositedShares  uint64
	LockedCollateral uint64
	BorrowedShares   uint64
	DepositIndex     bin.Uint128
	BorrowIndex      bin.Uint128
	Bump             uint8
}

// Loan is the open borrow for one (collateral market, borrow market,
// borrower) triple. The PDA seeds enforce at most one per triple.
type Loan struct {
	Borrower                  solana.PublicKey
	LoanID                    uint64
	CollateralMarket          solana.PublicKey
	CollateralAmount          uint64
	BorrowMarket              solana.PublicKey
	BorrowedAmount            uint64
	BorrowedUnderlying        uint64
	UserPosition              solana.PublicKey
	CurrentMarket             solana.PublicKey
	CurrentPositionValue      uint64
	Integration               solana.PublicKey
	IntegrationSharesReceived uint64
	SpendStatus               uint8
	LifecycleStatus           uint8
	CreatedAt                 int64
	UpdatedAt                 int64
	Bump                      uint8
}

func ParseProtocolState(data []byte) (*ProtocolState, error) {
	if err := checkAccount("ProtocolState", DiscriminatorProtocolState, ProtocolStateSize, data); err != nil {
		return nil, err
	}
	return &ProtocolState{
		Admin:        pubkeyAt(data, 8),
		FeeCollector: pubkeyAt(data, 40),
		Bump:         data[72],
	}, nil
}

func ParseMarket(data []byte) (*Market, error) {
	if err := checkAccount("Market", DiscriminatorMarket, MarketSize, data); err != nil {
		return nil, err
	}
	return &Market{
		Mint:                 pubkeyAt(data, 8),
		SupplyVault:          pubkeyAt(data, 40),
		SharesMint:           pubkeyAt(data, 72),
		DebtMint:             pubkeyAt(data, 104),
		TotalDeposits:        u64At(data, 136),
		TotalDepositedShares: u64At(data, 144),
		TotalBorrowedShares:  u64At(data, 152),
		TotalBorrows:         u64At(data, 160),
		TotalReserves:        u64At(data, 168),
		LastUpdateTs:         i64At(data, 176),
		SupplyIndex:          u128At(data, 184),
		BorrowIndex:          u128At(data, 200),
		MaxLtvBps:            u64At(data, 216),
		LiqThresholdBps:      u64At(data, 224),
		LiqPenaltyBps:        u64At(data, 232),
		ReserveFactorBps:     u64At(data, 240),
		MinDeposit:           u64At(data, 248),
		MaxDeposit:           u64At(data, 256),
		MinBorrow:            u64At(data, 264),
		MaxBorrow:            u64At(data, 272),
		LastWithdrawReset:    i64At(data, 280),
		DepositSnapshot:      u64At(data, 288),
		DepositFeeBps:        u64At(data, 296),
		WithdrawFeeBps:       u64At(data, 304),
		BorrowFeeBps:         u64At(data, 312),
		RepayFeeBps:          u64At(data, 320),
		Paused:               data[328] != 0,
		Bump:                 data[329],
	}, nil
}

func ParseUserPosition(data []byte) (*UserPosition, error) {
	if err := checkAccount("UserPosition", DiscriminatorUserPosition, UserPositionSize, data); err != nil {
		return nil, err
	}
	return &UserPosition{
		Owner:            pubkeyAt(data, 8),
		Market:           pubkeyAt(data, 40),
		DepositedShares:  u64At(data, 72),
		LockedCollateral: u64At(data, 80),
		BorrowedShares:   u64At(data, 88),
		DepositIndex:     u128At(data, 96),
		BorrowIndex:      u128At(data, 112),
		Bump:             data[128],
	}, nil
}

func ParseLoan(data []byte) (*Loan, error) {
	if err := checkAccount("Loan", DiscriminatorLoan, LoanSize, data); err != nil {
		return nil, err
	}
	return &Loan{
		Borrower:                  pubkeyAt(data, 8),
		LoanID:                    u64At(data, 40),
		CollateralMarket:          pubkeyAt(data, 48),
		CollateralAmount:          u64At(data, 80),
		BorrowMarket:              pubkeyAt(data, 88),
		BorrowedAmount:            u64At(data, 120),
		BorrowedUnderlying:        u64At(data, 128),
		UserPosition:              pubkeyAt(data, 136),
		CurrentMarket:             pubkeyAt(data, 168),
		CurrentPositionValue:      u64At(data, 200),
		Integration:               pubkeyAt(data, 208),
		IntegrationSharesReceived: u64At(data, 240),
		SpendStatus:               data[248],
		LifecycleStatus:           data[249],
		CreatedAt:                 i64At(data, 250),
		UpdatedAt:                 i64At(data, 258),
		Bump:                      data[266],
	}, nil
}

// Encode methods emit the full fixed layout, discriminator included. The
// on-chain program is the only writer of these accounts; encoding exists
// for fixtures and for mirroring the layout in tests.

func (s *ProtocolState) Encode() []byte {
	data := make([]byte, ProtocolStateSize)
	copy(data[0:8], DiscriminatorProtocolState[:])
	copy(data[8:40], s.Admin[:])
	copy(data[40:72], s.FeeCollector[:])
	data[72] = s.Bump
	return data
}

func (m *Market) Encode() []byte {
	data := make([]byte, MarketSize)
	copy(data[0:8], DiscriminatorMarket[:])
	copy(data[8:40], m.Mint[:])
	copy(data[40:72], m.SupplyVault[:])
	copy(data[72:104], m.SharesMint[:])
	copy(data[104:136], m.DebtMint[:])
	putU64(data, 136, m.TotalDeposits)
	putU64(data, 144, m.TotalDepositedShares)
	putU64(data, 152, m.TotalBorrowedShares)
	putU64(data, 160, m.TotalBorrows)
	putU64(data, 168, m.TotalReserves)
	putI64(data, 176, m.LastUpdateTs)
	putU128(data, 184, m.SupplyIndex)
	putU128(data, 200, m.BorrowIndex)
	putU64(data, 216, m.MaxLtvBps)
	putU64(data, 224, m.LiqThresholdBps)
	putU64(data, 232, m.LiqPenaltyBps)
	putU64(data, 240, m.ReserveFactorBps)
	putU64(data, 248, m.MinDeposit)
	putU64(data, 256, m.MaxDeposit)
	putU64(data, 264, m.MinBorrow)
	putU64(data, 272, m.MaxBorrow)
	putI64(data, 280, m.LastWithdrawReset)
	putU64(data, 288, m.DepositSnapshot)
	putU64(data, 296, m.DepositFeeBps)
	putU64(data, 304, m.WithdrawFeeBps)
	putU64(data, 312, m.BorrowFeeBps)
	putU64(data, 320, m.RepayFeeBps)
	if m.Paused {
		data[328] = 1
	}
	data[329] = m.Bump
	return data
}

func (p *UserPosition) Encode() []byte {
	data := make([]byte, UserPositionSize)
	copy(data[0:8], DiscriminatorUserPosition[:])
	copy(data[8:40], p.Owner[:])
	copy(data[40:72], p.Market[:])
	putU64(data, 72, p.DepositedShares)
	putU64(data, 80, p.LockedCollateral)
	putU64(data, 88, p.BorrowedShares)
	putU128(data, 96, p.DepositIndex)
	putU128(data, 112, p.BorrowIndex)
	data[128] = p.Bump
	return data
}

func (l *Loan) Encode() []byte {
	data := make([]byte, LoanSize)
	copy(data[0:8], DiscriminatorLoan[:])
	copy(data[8:40], l.Borrower[:])
	putU64(data, 40, l.LoanID)
	copy(data[48:80], l.CollateralMarket[:])
	putU64(data, 80, l.CollateralAmount)
	copy(data[88:120], l.BorrowMarket[:])
	putU64(data, 120, l.BorrowedAmount)
	putU64(data, 128, l.BorrowedUnderlying)
	copy(data[136:168], l.UserPosition[:])
	copy(data[168:200], l.CurrentMarket[:])
	putU64(data, 200, l.CurrentPositionValue)
	copy(data[208:240], l.Integration[:])
	putU64(data, 240, l.IntegrationSharesReceived)
	data[248] = l.SpendStatus
	data[249] = l.LifecycleStatus
	putI64(data, 250, l.CreatedAt)
	putI64(data, 258, l.UpdatedAt)
	data[266] = l.Bump
	return data
}

// UnderlyingFromShares converts supply shares to base units pro rata
// against the market's pooled deposits, flooring like the on-chain math.
func (m *Market) UnderlyingFromShares(shares uint64) uint64 {
	if m.TotalDepositedShares == 0 {
		return 0
	}
	out, err := mulDivFloor(shares, m.TotalDeposits, m.TotalDepositedShares)
	if err != nil {
		return 0
	}
	return out
}

// SharesFromUnderlying converts base units to supply shares pro rata,
// flooring. When the pool is empty shares mint one-for-one.
func (m *Market) SharesFromUnderlying(amount uint64) uint64 {
	if m.TotalDeposits == 0 || m.TotalDepositedShares == 0 {
		return amount
	}
	out, err := mulDivFloor(amount, m.TotalDepositedShares, m.TotalDeposits)
	if err != nil {
		return 0
	}
	return out
}

func checkAccount(kind string, discriminator [8]byte, size int, data []byte) error {
	if len(data) < size {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrTooShort, kind, size, len(data))
	}
	if !discriminatorMatches(data, discriminator) {
		return fmt.Errorf("%w: not a %s account", ErrBadDiscriminator, kind)
	}
	return nil
}

func discriminatorMatches(data []byte, discriminator [8]byte) bool {
	if len(data) < 8 {
		return false
	}
	for i := 0; i < 8; i++ {
		if data[i] != discriminator[i] {
			return false
		}
	}
	return true
}

func accountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func pubkeyAt(data []byte, offset int) solana.PublicKey {
	return solana.PublicKeyFromBytes(data[offset : offset+32])
}

func u64At(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func i64At(data []byte, offset int) int64 {
	return int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
}

func u128At(data []byte, offset int) bin.Uint128 {
	return bin.Uint128{
		Lo: binary.LittleEndian.Uint64(data[offset : offset+8]),
		Hi: binary.LittleEndian.Uint64(data[offset+8 : offset+16]),
	}
}

func putU64(data []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], value)
}

func putI64(data []byte, offset int, value int64) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], uint64(value))
}

func putU128(data []byte, offset int, value bin.Uint128) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], value.Lo)
	binary.LittleEndian.PutUint64(data[offset+8:offset+16], value.Hi)
}
