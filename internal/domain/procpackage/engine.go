package procpackage

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

var hundred = decimal.NewFromInt(100)

// MaxQuantity is the largest quantity the item table stores.
const MaxQuantity = math.MaxInt32

// Recompute derives TotalBasePrice and DiscountPercent from the items and the
// package price. The input is not modified.
//
//	base     = sum(unit_price * quantity)
//	discount = max(0, (base - package_price) / base * 100), 0 when base is 0
func Recompute(p Package) (Package, error) {
	if len(p.Items) == 0 {
		return p, fmt.Errorf("package %q has no procedures: %w", p.PackageCode, apperr.ErrEmptyComposition)
	}
	if p.PackagePrice.IsNegative() {
		return p, apperr.InvalidInput("package_price must not be negative")
	}
	if p.PackagePrice.GreaterThan(money.Max) {
		return p, apperr.InvalidInput("package_price must not exceed %s", money.Max)
	}

	lines := make([]money.Money, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Quantity < 0 {
			return p, apperr.InvalidInput("quantity for %s must not be negative", it.ProcedureID)
		}
		if it.Quantity > MaxQuantity {
			return p, apperr.InvalidInput("quantity for %s must not exceed %d", it.ProcedureID, MaxQuantity)
		}
		if it.UnitPrice.IsNegative() {
			return p, apperr.InvalidInput("unit price for %s must not be negative", it.ProcedureID)
		}
		lines = append(lines, it.LineTotal())
	}

	out := p
	out.Items = append([]Item(nil), p.Items...)
	out.TotalBasePrice = money.Sum(lines...)
	if out.TotalBasePrice.GreaterThan(money.Max) {
		return p, apperr.InvalidInput("total base price must not exceed %s", money.Max)
	}
	out.DiscountPercent = discountPercent(out.TotalBasePrice, p.PackagePrice)
	return out, nil
}

func discountPercent(base, price money.Money) decimal.Decimal {
	if !base.IsPositive() || !price.LessThan(base) {
		return decimal.Zero
	}
	pct := base.Sub(price).Ratio(base).Mul(hundred)
	return money.RoundHalfUp(pct, money.Scale)
}
