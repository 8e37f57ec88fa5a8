package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

// ApplyPayment adds amount to the received total and recomputes the bill.
// It returns the updated copy and the ledger entry to append. Paying a bill
// that is already settled is rejected; overpaying an open one is accepted.
func ApplyPayment(b Bill, amount money.Money, mode PaymentMode, reference string, now time.Time) (Bill, Payment, error) {
	if !amount.IsPositive() {
		return b, Payment{}, apperr.InvalidInput("payment amount must be positive")
	}
	if !amount.Round().Equal(amount) {
		return b, Payment{}, apperr.InvalidInput("payment amount must have at most two decimal places")
	}
	if amount.GreaterThan(money.Max) {
		return b, Payment{}, apperr.InvalidInput("payment amount must not exceed %s", money.Max)
	}
	if !paymentModes[mode] {
		return b, Payment{}, apperr.InvalidInput("unknown payment mode %q", mode)
	}
	if b.PaymentStatus == StatusPaid {
		return b, Payment{}, fmt.Errorf("bill %s is already paid: %w", b.BillNumber, apperr.ErrPreconditionFailed)
	}

	next := b
	next.ReceivedAmount = b.ReceivedAmount.Add(amount)
	bd, err := Compute(next.TotalAmount, next.DiscountPercent, next.ReceivedAmount)
	if err != nil {
		return b, Payment{}, err
	}
	next.Apply(bd)
	next.PaymentMode = mode

	p := Payment{
		ID:         uuid.New(),
		BillID:     b.ID,
		Amount:     amount,
		Mode:       mode,
		ReceivedAt: now,
	}
	if ref := strings.TrimSpace(reference); ref != "" {
		p.Reference = &ref
		next.PaymentDetails = &ref
	}
	return next, p, nil
}
