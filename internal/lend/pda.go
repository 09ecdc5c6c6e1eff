package lend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrSeedTooLong is returned when a PDA seed exceeds the runtime's
// per-seed length limit and no address can be derived.
var ErrSeedTooLong = errors.New("pda seed too long")

const (
	seedProtocolState = "protocol_state"
	seedMarket        = "market"
	seedSupplyVault   = "supply_vault"
	seedUserPosition  = "user_account"
	seedLoan          = "loan"
)

// Seed order and byte encoding are part of the on-chain contract: any
// deviation derives a different address silently, so every derivation
// lives here and nowhere else.

func DeriveProtocolStatePDA(lendingProgramID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findProgramAddress([][]byte{[]byte(seedProtocolState)}, lendingProgramID)
}

func DeriveMarketPDA(lendingProgramID, underlyingMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findProgramAddress([][]byte{[]byte(seedMarket), underlyingMint.Bytes()}, lendingProgramID)
}

func DeriveSupplyVaultPDA(lendingProgramID, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findProgramAddress([][]byte{[]byte(seedSupplyVault), market.Bytes()}, lendingProgramID)
}

func DeriveUserPositionPDA(lendingProgramID, owner, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findProgramAddress([][]byte{[]byte(seedUserPosition), owner.Bytes(), market.Bytes()}, lendingProgramID)
}

func DeriveLoanPDA(lendingProgramID, collateralMarket, borrowMarket, borrower solana.PublicKey) (solana.PublicKey, uint8, error) {
	return findProgramAddress(
		[][]byte{[]byte(seedLoan), collateralMarket.Bytes(), borrowMarket.Bytes(), borrower.Bytes()},
		lendingProgramID,
	)
}

func MustDeriveMarketPDA(lendingProgramID, underlyingMint solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveMarketPDA(lendingProgramID, underlyingMint)
	if err != nil {
		panic(fmt.Errorf("derive market PDA: %w", err))
	}
	return pk
}

func findProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	for i, seed := range seeds {
		if len(seed) > solana.MaxSeedLength {
			return solana.PublicKey{}, 0, fmt.Errorf("%w: seed %d is %d bytes (max %d)", ErrSeedTooLong, i, len(seed), solana.MaxSeedLength)
		}
	}
	pk, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		if strings.Contains(err.Error(), "seed") {
			return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrSeedTooLong, err)
		}
		return solana.PublicKey{}, 0, err
	}
	return pk, bump, nil
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}
