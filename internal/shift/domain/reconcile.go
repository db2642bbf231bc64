package shift

import (
	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
)

// Revenue is volume times the frozen unit price, unrounded.
func Revenue(volumeSold, unitPrice decimal.Decimal) decimal.Decimal {
	return volumeSold.Mul(unitPrice)
}

// CashInput is what the operator declares at close.
type CashInput struct {
	Counted  decimal.Decimal
	Card     decimal.Decimal
	Expenses decimal.Decimal
}

// Validate rejects negative amounts.
func (c CashInput) Validate() error {
	if c.Counted.IsNegative() || c.Card.IsNegative() || c.Expenses.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// CashResult is the financial reconciliation of a shift.
type CashResult struct {
	TotalRevenue    decimal.Decimal
	TheoreticalCash decimal.Decimal
	CashVariance    decimal.Decimal
}

// ReconcileCash derives the expected drawer cash and the signed variance.
// A positive variance is a surplus, a negative one a shortfall.
func ReconcileCash(totalRevenue decimal.Decimal, cash CashInput) CashResult {
	theoretical := totalRevenue.Sub(cash.Card).Sub(cash.Expenses)
	return CashResult{
		TotalRevenue:    totalRevenue,
		TheoreticalCash: theoretical,
		CashVariance:    cash.Counted.Sub(theoretical),
	}
}

// StockInput gathers the per-tank quantities of a shift.
type StockInput struct {
	OpeningLevel  decimal.Decimal
	Deliveries    decimal.Decimal
	SoldVolume    decimal.Decimal
	PhysicalLevel decimal.Decimal
}

// StockResult is the physical reconciliation of one tank.
type StockResult struct {
	TheoreticalStock decimal.Decimal
	StockVariance    decimal.Decimal
}

// ReconcileStock compares the dip with opening + deliveries - sales.
func ReconcileStock(in StockInput) StockResult {
	theoretical := in.OpeningLevel.Add(in.Deliveries).Sub(in.SoldVolume)
	return StockResult{
		TheoreticalStock: theoretical,
		StockVariance:    in.PhysicalLevel.Sub(theoretical),
	}
}

// TotalStockVariance sums absolute variances so that tanks cannot offset each other.
func TotalStockVariance(variances ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range variances {
		total = total.Add(v.Abs())
	}
	return total
}

// Breach describes which thresholds a closed shift exceeded.
type Breach struct {
	CashVariance       decimal.Decimal
	TotalStockVariance decimal.Decimal
	Tolerance          masterdata.Tolerance
	CashExceeded       bool
	StockExceeded      bool
}

// Exceeded reports whether any threshold was crossed.
func (b Breach) Exceeded() bool {
	return b.CashExceeded || b.StockExceeded
}

// EvaluateTolerance compares |cashVariance| and the aggregate stock variance
// with the thresholds. Equality does not breach.
func EvaluateTolerance(tol masterdata.Tolerance, cashVariance, totalStockVariance decimal.Decimal) Breach {
	return Breach{
		CashVariance:       cashVariance,
		TotalStockVariance: totalStockVariance,
		Tolerance:          tol,
		CashExceeded:       cashVariance.Abs().GreaterThan(tol.CashVariance),
		StockExceeded:      totalStockVariance.GreaterThan(tol.StockVariance),
	}
}
