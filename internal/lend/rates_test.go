package lend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkedRatesExample(t *testing.T) {
	// 1.0 deposited, 0.5 borrowed at 9 decimals, 10% reserve factor.
	market := &Market{
		TotalDeposits:    1_000_000_000,
		TotalBorrows:     500_000_000,
		ReserveFactorBps: 1000,
	}

	assert.Equal(t, 0.5, Utilization(market))
	assert.InDelta(t, 0.12, BorrowAPR(market), 1e-12)
	assert.InDelta(t, 0.054, SupplyAPR(market), 1e-12)
	assert.InDelta(t, 0.5, AvailableLiquidity(market, 9), 1e-12)
}

func TestUtilizationZeroDeposits(t *testing.T) {
	// Even inconsistent data (borrows against an empty pool) must not
	// divide by zero.
	market := &Market{TotalDeposits: 0, TotalBorrows: 123_456}
	assert.Equal(t, 0.0, Utilization(market))
	assert.InDelta(t, BaseRate, BorrowAPR(market), 1e-12)
	assert.Equal(t, 0.0, SupplyAPR(market))
}

func TestBorrowLTVBoundaryIsStrict(t *testing.T) {
	check := BorrowCheck{
		CollateralAmount: 10,
		CollateralPrice:  100,
		BorrowPrice:      1,
		MaxLtvBps:        5000,
	}

	assert.Equal(t, 500.0, check.MaxBorrowValue())

	// Exactly at the limit: rejected, must leave headroom.
	check.BorrowAmount = 500
	assert.False(t, check.Allowed())

	check.BorrowAmount = 499.999
	assert.True(t, check.Allowed())

	check.BorrowAmount = 500.001
	assert.False(t, check.Allowed())
}

func TestHealthFactor(t *testing.T) {
	// 80% liquidation threshold: $1000 collateral carries up to $800 of
	// debt before health drops below 1.
	assert.InDelta(t, 2.0, HealthFactor(8000, 1000, 400), 1e-12)
	assert.InDelta(t, 1.0, HealthFactor(8000, 1000, 800), 1e-12)
	assert.Less(t, HealthFactor(8000, 1000, 900), 1.0)
	assert.True(t, math.IsInf(HealthFactor(8000, 1000, 0), 1))
}

func TestMulDivFloor(t *testing.T) {
	out, err := mulDivFloor(10, 3, 4)
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), out)

	_, err = mulDivFloor(1, 1, 0)
	assert.Error(t, err)

	_, err = mulDivFloor(math.MaxUint64, math.MaxUint64, 1)
	assert.Error(t, err)
}
