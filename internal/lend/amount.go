package lend

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for user-facing amounts that are empty,
// non-finite, non-numeric, or not strictly positive.
var ErrInvalidAmount = errors.New("invalid amount")

// AmountToBaseUnits converts a decimal string like "1.23456789" to base
// units at the given mint decimals. Fractional digits beyond the mint's
// precision are dropped, never rounded, to mirror on-chain integer math.
func AmountToBaseUnits(ui string, decimals uint8) (uint64, error) {
	trimmed := strings.TrimSpace(ui)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return 0, fmt.Errorf("%w: %q must be an unsigned decimal", ErrInvalidAmount, ui)
	}

	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return 0, fmt.Errorf("%w: %q has multiple decimal points", ErrInvalidAmount, ui)
		}
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, ui)
	}

	// Truncate, don't round: anything past `decimals` fractional digits
	// has no representation in base units.
	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return 0, fmt.Errorf("%w: %q is zero", ErrInvalidAmount, ui)
	}

	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, ui)
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows u64 at %d decimals", ErrInvalidAmount, ui, decimals)
	}
	return value.Uint64(), nil
}

// AmountFloatToBaseUnits is the single float boundary of the core: UI
// widgets hand over float64 amounts, everything downstream is integer.
func AmountFloatToBaseUnits(ui float64, decimals uint8) (uint64, error) {
	if math.IsNaN(ui) || math.IsInf(ui, 0) {
		return 0, fmt.Errorf("%w: non-finite", ErrInvalidAmount)
	}
	if ui <= 0 {
		return 0, fmt.Errorf("%w: must be > 0", ErrInvalidAmount)
	}
	// Format with enough fractional digits that truncation happens in
	// decimal-string space, not in binary float space.
	return AmountToBaseUnits(strconv.FormatFloat(ui, 'f', -1, 64), decimals)
}

// BaseUnitsToUI scales base units back to a human amount for display.
func BaseUnitsToUI(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
