package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

var maxPercent = decimal.NewFromInt(100)

// Breakdown holds the derived amounts of a bill.
type Breakdown struct {
	Discount money.Money   `json:"discount_amount"`
	Payable  money.Money   `json:"payable_amount"`
	Balance  money.Money   `json:"balance_amount"`
	Status   PaymentStatus `json:"payment_status"`
	// Overpaid marks a negative balance. Status stays unpaid in that case.
	Overpaid bool `json:"overpaid"`
}

// Compute derives discount, payable, balance and status. The discount is
// rounded half-up to cents first and payable and balance follow from it, so
// discount + payable == total and payable - balance == received hold exactly.
func Compute(total money.Money, discountPercent decimal.Decimal, received money.Money) (Breakdown, error) {
	if total.IsNegative() {
		return Breakdown{}, apperr.InvalidInput("total_amount must not be negative")
	}
	if received.IsNegative() {
		return Breakdown{}, apperr.InvalidInput("received_amount must not be negative")
	}
	if total.GreaterThan(money.Max) || received.GreaterThan(money.Max) {
		return Breakdown{}, apperr.InvalidInput("amounts must not exceed %s", money.Max)
	}
	if !total.Round().Equal(total) || !received.Round().Equal(received) {
		return Breakdown{}, apperr.InvalidInput("amounts must have at most two decimal places")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(maxPercent) {
		return Breakdown{}, apperr.InvalidInput("discount_percent %s must be between 0 and 100", discountPercent)
	}
	if !money.RoundHalfUp(discountPercent, money.Scale).Equal(discountPercent) {
		return Breakdown{}, apperr.InvalidInput("discount_percent must have at most two decimal places")
	}

	discount := total.Percent(discountPercent).Round()
	payable := total.Sub(discount)
	balance := payable.Sub(received)

	return Breakdown{
		Discount: discount,
		Payable:  payable,
		Balance:  balance,
		Status:   deriveStatus(payable, received, balance),
		Overpaid: balance.IsNegative(),
	}, nil
}

func deriveStatus(payable, received, balance money.Money) PaymentStatus {
	switch {
	case balance.IsZero():
		return StatusPaid
	case received.IsPositive() && received.LessThan(payable):
		return StatusPartial
	default:
		return StatusUnpaid
	}
}
