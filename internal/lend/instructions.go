package lend

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction discriminators: sha256("global:<name>")[:8], the Anchor
// convention for top-level instruction handlers.
var (
	ixInitProtocolState = instructionDiscriminator("init_protocol_state")
	ixInitMarket        = instructionDiscriminator("init_market")
	ixDeposit           = instructionDiscriminator("deposit")
	ixWithdraw          = instructionDiscriminator("withdraw")
	ixBorrow            = instructionDiscriminator("borrow")
	ixRepay             = instructionDiscriminator("repay")
)

// Account ordering below is part of the wire contract. The program
// resolves accounts by position, so two addresses of the same type
// swapped silently corrupt the call; change nothing here without
// changing the on-chain handler.

// NewDepositInstruction moves `amount` base units from the user's token
// account into the market's supply vault, creating the user position on
// first use.
func NewDepositInstruction(
	programID solana.PublicKey,
	user solana.PublicKey,
	mint solana.PublicKey,
	userTokenAccount solana.PublicKey,
	amount uint64,
) (solana.Instruction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: deposit amount must be > 0", ErrInvalidAmount)
	}

	protocolState, _, err := DeriveProtocolStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}
	market, _, err := DeriveMarketPDA(programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive market PDA: %w", err)
	}
	supplyVault, _, err := DeriveSupplyVaultPDA(programID, market)
	if err != nil {
		return nil, fmt.Errorf("derive supply vault PDA: %w", err)
	}
	userPosition, _, err := DeriveUserPositionPDA(programID, user, market)
	if err != nil {
		return nil, fmt.Errorf("derive user position PDA: %w", err)
	}

	data := append(ixDeposit[:], u64LE(amount)...)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(protocolState, false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(supplyVault, true, false),
		solana.NewAccountMeta(userPosition, true, false),
		solana.NewAccountMeta(userTokenAccount, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewWithdrawInstruction redeems `shares` from the user's position back
// into the user's token account.
func NewWithdrawInstruction(
	programID solana.PublicKey,
	user solana.PublicKey,
	mint solana.PublicKey,
	userTokenAccount solana.PublicKey,
	shares uint64,
) (solana.Instruction, error) {
	if shares == 0 {
		return nil, fmt.Errorf("%w: withdraw shares must be > 0", ErrInvalidAmount)
	}

	protocolState, _, err := DeriveProtocolStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}
	market, _, err := DeriveMarketPDA(programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive market PDA: %w", err)
	}
	supplyVault, _, err := DeriveSupplyVaultPDA(programID, market)
	if err != nil {
		return nil, fmt.Errorf("derive supply vault PDA: %w", err)
	}
	userPosition, _, err := DeriveUserPositionPDA(programID, user, market)
	if err != nil {
		return nil, fmt.Errorf("derive user position PDA: %w", err)
	}

	data := append(ixWithdraw[:], u64LE(shares)...)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(protocolState, false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(supplyVault, true, false),
		solana.NewAccountMeta(userPosition, true, false),
		solana.NewAccountMeta(userTokenAccount, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// BorrowParams names every input of a borrow. The two price-update
// accounts must already exist on chain and be fresh; posting them is the
// oracle refresher's job, the builder only places their addresses.
type BorrowParams struct {
	ProgramID             solana.PublicKey
	Borrower              solana.PublicKey
	CollateralMint        solana.PublicKey
	BorrowMint            solana.PublicKey
	UserTokenAccount      solana.PublicKey
	CollateralPriceUpdate solana.PublicKey
	BorrowPriceUpdate     solana.PublicKey
	CollateralShares      uint64
	BorrowAmount          uint64
}

// NewBorrowInstruction locks collateral shares and draws `BorrowAmount`
// base units against them, creating the loan account on first borrow for
// the (collateral market, borrow market, borrower) triple.
func NewBorrowInstruction(p BorrowParams) (solana.Instruction, error) {
	if p.CollateralShares == 0 {
		return nil, fmt.Errorf("%w: collateral shares must be > 0", ErrInvalidAmount)
	}
	if p.BorrowAmount == 0 {
		return nil, fmt.Errorf("%w: borrow amount must be > 0", ErrInvalidAmount)
	}

	protocolState, _, err := DeriveProtocolStatePDA(p.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}
	collateralMarket, _, err := DeriveMarketPDA(p.ProgramID, p.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("derive collateral market PDA: %w", err)
	}
	borrowMarket, _, err := DeriveMarketPDA(p.ProgramID, p.BorrowMint)
	if err != nil {
		return nil, fmt.Errorf("derive borrow market PDA: %w", err)
	}
	borrowSupplyVault, _, err := DeriveSupplyVaultPDA(p.ProgramID, borrowMarket)
	if err != nil {
		return nil, fmt.Errorf("derive borrow supply vault PDA: %w", err)
	}
	loan, _, err := DeriveLoanPDA(p.ProgramID, collateralMarket, borrowMarket, p.Borrower)
	if err != nil {
		return nil, fmt.Errorf("derive loan PDA: %w", err)
	}
	collateralPosition, _, err := DeriveUserPositionPDA(p.ProgramID, p.Borrower, collateralMarket)
	if err != nil {
		return nil, fmt.Errorf("derive collateral position PDA: %w", err)
	}
	borrowPosition, _, err := DeriveUserPositionPDA(p.ProgramID, p.Borrower, borrowMarket)
	if err != nil {
		return nil, fmt.Errorf("derive borrow position PDA: %w", err)
	}

	data := append(ixBorrow[:], u64LE(p.CollateralShares)...)
	data = append(data, u64LE(p.BorrowAmount)...)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Borrower, true, true),
		solana.NewAccountMeta(protocolState, false, false),
		solana.NewAccountMeta(collateralMarket, true, false),
		solana.NewAccountMeta(borrowMarket, true, false),
		solana.NewAccountMeta(borrowSupplyVault, true, false),
		solana.NewAccountMeta(loan, true, false),
		solana.NewAccountMeta(collateralPosition, true, false),
		solana.NewAccountMeta(borrowPosition, true, false),
		solana.NewAccountMeta(p.UserTokenAccount, true, false),
		solana.NewAccountMeta(p.CollateralPriceUpdate, false, false),
		solana.NewAccountMeta(p.BorrowPriceUpdate, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), nil
}

// RepayParams names every input of a repay against an open loan.
type RepayParams struct {
	ProgramID        solana.PublicKey
	Borrower         solana.PublicKey
	CollateralMint   solana.PublicKey
	BorrowMint       solana.PublicKey
	UserTokenAccount solana.PublicKey
	Amount           uint64
}

// NewRepayInstruction pays `Amount` base units back into the borrow
// market; a full repay closes the loan and unlocks its collateral.
func NewRepayInstruction(p RepayParams) (solana.Instruction, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: repay amount must be > 0", ErrInvalidAmount)
	}

	protocolState, _, err := DeriveProtocolStatePDA(p.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}
	collateralMarket, _, err := DeriveMarketPDA(p.ProgramID, p.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("derive collateral market PDA: %w", err)
	}
	borrowMarket, _, err := DeriveMarketPDA(p.ProgramID, p.BorrowMint)
	if err != nil {
		return nil, fmt.Errorf("derive borrow market PDA: %w", err)
	}
	borrowSupplyVault, _, err := DeriveSupplyVaultPDA(p.ProgramID, borrowMarket)
	if err != nil {
		return nil, fmt.Errorf("derive borrow supply vault PDA: %w", err)
	}
	loan, _, err := DeriveLoanPDA(p.ProgramID, collateralMarket, borrowMarket, p.Borrower)
	if err != nil {
		return nil, fmt.Errorf("derive loan PDA: %w", err)
	}
	collateralPosition, _, err := DeriveUserPositionPDA(p.ProgramID, p.Borrower, collateralMarket)
	if err != nil {
		return nil, fmt.Errorf("derive collateral position PDA: %w", err)
	}
	borrowPosition, _, err := DeriveUserPositionPDA(p.ProgramID, p.Borrower, borrowMarket)
	if err != nil {
		return nil, fmt.Errorf("derive borrow position PDA: %w", err)
	}

	data := append(ixRepay[:], u64LE(p.Amount)...)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Borrower, true, true),
		solana.NewAccountMeta(protocolState, false, false),
		solana.NewAccountMeta(collateralMarket, true, false),
		solana.NewAccountMeta(borrowMarket, true, false),
		solana.NewAccountMeta(borrowSupplyVault, true, false),
		solana.NewAccountMeta(loan, true, false),
		solana.NewAccountMeta(collateralPosition, true, false),
		solana.NewAccountMeta(borrowPosition, true, false),
		solana.NewAccountMeta(p.UserTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), nil
}

// NewInitProtocolStateInstruction creates the singleton config account.
func NewInitProtocolStateInstruction(
	programID solana.PublicKey,
	admin solana.PublicKey,
	feeCollector solana.PublicKey,
) (solana.Instruction, error) {
	protocolState, _, err := DeriveProtocolStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(admin, true, true),
		solana.NewAccountMeta(protocolState, true, false),
		solana.NewAccountMeta(feeCollector, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, ixInitProtocolState[:]), nil
}

// MarketRiskParams are the basis-point risk settings passed to
// init_market, in on-chain argument order.
type MarketRiskParams struct {
	MaxLtvBps        uint64
	LiqThresholdBps  uint64
	LiqPenaltyBps    uint64
	ReserveFactorBps uint64
}

// NewInitMarketInstruction creates the market, vault and both mints for
// one underlying asset.
func NewInitMarketInstruction(
	programID solana.PublicKey,
	admin solana.PublicKey,
	mint solana.PublicKey,
	sharesMint solana.PublicKey,
	debtMint solana.PublicKey,
	risk MarketRiskParams,
) (solana.Instruction, error) {
	protocolState, _, err := DeriveProtocolStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol state PDA: %w", err)
	}
	market, _, err := DeriveMarketPDA(programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive market PDA: %w", err)
	}
	supplyVault, _, err := DeriveSupplyVaultPDA(programID, market)
	if err != nil {
		return nil, fmt.Errorf("derive supply vault PDA: %w", err)
	}

	data := append(ixInitMarket[:], u64LE(risk.MaxLtvBps)...)
	data = append(data, u64LE(risk.LiqThresholdBps)...)
	data = append(data, u64LE(risk.LiqPenaltyBps)...)
	data = append(data, u64LE(risk.ReserveFactorBps)...)
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(admin, true, true),
		solana.NewAccountMeta(protocolState, false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(supplyVault, true, false),
		solana.NewAccountMeta(sharesMint, true, false),
		solana.NewAccountMeta(debtMint, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func instructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
