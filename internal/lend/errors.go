package lend

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoErrorFound is returned when simulation logs contain no custom
// program error. It is distinct from a zero-value translation so callers
// can never mistake "nothing matched" for an actual protocol rejection.
var ErrNoErrorFound = errors.New("no protocol error in logs")

// ProtocolError is one entry of the on-chain error taxonomy.
type ProtocolError struct {
	Code        uint32
	Name        string
	Description string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Description)
}

// Known reports whether the code was present in the protocol's table.
func (e ProtocolError) Known() bool {
	return !strings.HasPrefix(e.Name, "UnknownProtocolError")
}

var protocolErrors = map[uint32]ProtocolError{
	6000: {6000, "DepositTooSmall", "deposit amount is below the market minimum"},
	6001: {6001, "DepositTooLarge", "deposit amount exceeds the market maximum"},
	6002: {6002, "BorrowTooSmall", "borrow amount is below the market minimum"},
	6003: {6003, "BorrowTooLarge", "borrow amount exceeds the market maximum"},
	6004: {6004, "InsufficientLiquidity", "market does not hold enough free liquidity for this borrow"},
	6005: {6005, "LtvExceeded", "borrow would push the position past the market's max loan-to-value"},
	6006: {6006, "UnhealthyPosition", "position health factor is below the liquidation threshold"},
	6007: {6007, "InsufficientCollateral", "not enough unlocked collateral backs this action"},
	6008: {6008, "InvalidLoan", "loan account does not match the expected borrower and markets"},
	6009: {6009, "MathOverflow", "protocol arithmetic overflowed"},
	6010: {6010, "MarketPaused", "market is paused and rejects all actions"},
	6011: {6011, "InsufficientFreeShares", "withdraw exceeds shares not locked as collateral"},
	6012: {6012, "WithdrawLimitExceeded", "withdraw exceeds the rolling rate-limit window"},
	6013: {6013, "InvalidMarket", "account is not a market of this protocol deployment"},
	6014: {6014, "Unauthorized", "signer is not allowed to perform this action"},
	6015: {6015, "RepayAmountTooSmall", "repay amount is too small to reduce the loan"},
}

// TranslateProtocolError maps a numeric code from a failed simulation to
// its taxonomy entry. Unknown codes come back as UnknownProtocolError.
func TranslateProtocolError(code uint32) ProtocolError {
	if entry, ok := protocolErrors[code]; ok {
		return entry
	}
	return ProtocolError{
		Code:        code,
		Name:        fmt.Sprintf("UnknownProtocolError(%d)", code),
		Description: fmt.Sprintf("unrecognized protocol error code %d", code),
	}
}

var customProgramErrorPattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// ExtractProtocolError scans transaction logs for the runtime's
// "custom program error: 0x…" line and translates the code. Logs with
// no matching line yield ErrNoErrorFound, never a crash.
func ExtractProtocolError(logs []string) (ProtocolError, error) {
	for _, line := range logs {
		match := customProgramErrorPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		code, err := strconv.ParseUint(match[1], 16, 32)
		if err != nil {
			continue
		}
		return TranslateProtocolError(uint32(code)), nil
	}
	return ProtocolError{}, ErrNoErrorFound
}
