package lend

import (
	"fmt"
	"math"
	"math/big"
)

// Rate curve constants. The on-chain program uses a single-slope model
// with no kink; the reserve factor is the only per-market rate input.
const (
	BaseRate  = 0.02
	RateSlope = 0.20

	bpsDenom = uint64(10_000)
)

// Utilization is borrows over deposits, defined as 0 for an empty pool
// so inconsistent account data can never divide by zero.
func Utilization(m *Market) float64 {
	if m.TotalDeposits == 0 {
		return 0
	}
	return float64(m.TotalBorrows) / float64(m.TotalDeposits)
}

// BorrowAPR is baseRate + slope * utilization.
func BorrowAPR(m *Market) float64 {
	return BaseRate + RateSlope*Utilization(m)
}

// SupplyAPR is the borrow rate paid back to suppliers, net of the
// market's reserve cut.
func SupplyAPR(m *Market) float64 {
	reserveFactor := float64(m.ReserveFactorBps) / float64(bpsDenom)
	return BorrowAPR(m) * Utilization(m) * (1 - reserveFactor)
}

// AvailableLiquidity is the human-scaled amount left to borrow.
func AvailableLiquidity(m *Market, decimals uint8) float64 {
	scale := math.Pow10(int(decimals))
	return float64(m.TotalDeposits)/scale - float64(m.TotalBorrows)/scale
}

// BorrowCheck carries the inputs of an LTV pre-flight: amounts are
// human-scaled, prices are live USD quotes for the two assets.
type BorrowCheck struct {
	CollateralAmount float64
	CollateralPrice  float64
	BorrowAmount     float64
	BorrowPrice      float64
	MaxLtvBps        uint64
}

// Allowed reports whether the prospective borrow stays under the
// collateral market's max LTV. The inequality is strict: a borrow that
// lands exactly on the limit is rejected, it must leave headroom.
func (c BorrowCheck) Allowed() bool {
	maxLtv := float64(c.MaxLtvBps) / float64(bpsDenom)
	return maxLtv*c.CollateralAmount*c.CollateralPrice > c.BorrowAmount*c.BorrowPrice
}

// MaxBorrowValue is the USD value ceiling the check enforces.
func (c BorrowCheck) MaxBorrowValue() float64 {
	return float64(c.MaxLtvBps) / float64(bpsDenom) * c.CollateralAmount * c.CollateralPrice
}

// HealthFactor compares collateral value weighted by the liquidation
// threshold against borrowed value. Above 1 the position is safe; with
// no debt it is +Inf.
func HealthFactor(liqThresholdBps uint64, collateralValue, borrowValue float64) float64 {
	if borrowValue <= 0 {
		return math.Inf(1)
	}
	return float64(liqThresholdBps) / float64(bpsDenom) * collateralValue / borrowValue
}

func mulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if !left.IsUint64() {
		return 0, fmt.Errorf("mulDiv overflow")
	}
	return left.Uint64(), nil
}
