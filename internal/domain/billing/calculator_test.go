package billing

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustCompute(t *testing.T, total, percent, received string) Breakdown {
	t.Helper()
	bd, err := Compute(money.MustParse(total), pct(percent), money.MustParse(received))
	if err != nil {
		t.Fatalf("Compute(%s, %s, %s): %v", total, percent, received, err)
	}
	return bd
}

func expectAmount(t *testing.T, field string, got money.Money, want string) {
	t.Helper()
	if got.String() != want {
		t.Errorf("%s: expected %s, got %s", field, want, got)
	}
}

// Scenario A
func TestCompute_FullPayment(t *testing.T) {
	bd := mustCompute(t, "1000.00", "10", "900.00")

	expectAmount(t, "discount", bd.Discount, "100.00")
	expectAmount(t, "payable", bd.Payable, "900.00")
	expectAmount(t, "balance", bd.Balance, "0.00")
	if bd.Status != StatusPaid {
		t.Errorf("expected paid, got %s", bd.Status)
	}
	if bd.Overpaid {
		t.Error("expected overpaid=false")
	}
}

// Scenario B
func TestCompute_PartialPayment(t *testing.T) {
	bd := mustCompute(t, "500.00", "0", "200.00")

	expectAmount(t, "discount", bd.Discount, "0.00")
	expectAmount(t, "payable", bd.Payable, "500.00")
	expectAmount(t, "balance", bd.Balance, "300.00")
	if bd.Status != StatusPartial {
		t.Errorf("expected partial, got %s", bd.Status)
	}
}

func TestCompute_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		pct      string
		received string
		status   PaymentStatus
		overpaid bool
	}{
		{"nothing received", "250.00", "0", "0", StatusUnpaid, false},
		{"zero bill", "0", "0", "0", StatusPaid, false},
		{"full discount", "750.00", "100", "0", StatusPaid, false},
		{"overpaid", "100.00", "0", "150.00", StatusUnpaid, true},
		{"one cent short", "100.00", "0", "99.99", StatusPartial, false},
		{"paid to the cent", "99.99", "12.5", "87.49", StatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd := mustCompute(t, tt.total, tt.pct, tt.received)
			if bd.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, bd.Status)
			}
			if bd.Overpaid != tt.overpaid {
				t.Errorf("expected overpaid=%v, got %v", tt.overpaid, bd.Overpaid)
			}
		})
	}
}

func TestCompute_RoundsDiscountHalfUp(t *testing.T) {
	// 33.33% of 100.05 = 33.346665 -> 33.35
	bd := mustCompute(t, "100.05", "33.33", "0")
	expectAmount(t, "discount", bd.Discount, "33.35")
	expectAmount(t, "payable", bd.Payable, "66.70")

	// 12.5% of 0.20 = 0.025 -> 0.03
	bd = mustCompute(t, "0.20", "12.5", "0")
	expectAmount(t, "discount", bd.Discount, "0.03")
	expectAmount(t, "payable", bd.Payable, "0.17")
}

func TestCompute_DiscountBoundaries(t *testing.T) {
	bd := mustCompute(t, "432.10", "0", "0")
	expectAmount(t, "discount at 0%", bd.Discount, "0.00")
	expectAmount(t, "payable at 0%", bd.Payable, "432.10")

	bd = mustCompute(t, "432.10", "100", "0")
	expectAmount(t, "discount at 100%", bd.Discount, "432.10")
	expectAmount(t, "payable at 100%", bd.Payable, "0.00")
}

func TestCompute_AcceptsLargestColumnValue(t *testing.T) {
	bd := mustCompute(t, "999999999999.99", "0", "999999999999.99")
	if bd.Status != StatusPaid {
		t.Errorf("expected paid, got %s", bd.Status)
	}
}

func TestCompute_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		pct      string
		received string
	}{
		{"negative total", "-1.00", "0", "0"},
		{"negative received", "10.00", "0", "-0.01"},
		{"percent below zero", "10.00", "-0.01", "0"},
		{"percent above hundred", "10.00", "100.01", "0"},
		{"sub-cent total", "10.005", "0", "0"},
		{"sub-cent received", "10.00", "0", "1.001"},
		{"three-digit percent fraction", "10.00", "12.345", "0"},
		{"total beyond column", "1000000000000.00", "0", "0"},
		{"received beyond column", "10.00", "0", "1000000000000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(money.MustParse(tt.total), pct(tt.pct), money.MustParse(tt.received))
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCompute_IdentitiesHold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		total := money.FromCents(rng.Int63n(10_000_000))
		percent := decimal.New(rng.Int63n(10_001), -2)
		received := money.FromCents(rng.Int63n(12_000_000))

		bd, err := Compute(total, percent, received)
		if err != nil {
			t.Fatalf("Compute(%s, %s, %s): %v", total, percent, received, err)
		}
		if !bd.Discount.Add(bd.Payable).Equal(total) {
			t.Fatalf("discount + payable != total for %s @ %s%%", total, percent)
		}
		if !bd.Payable.Sub(bd.Balance).Equal(received) {
			t.Fatalf("payable - balance != received for %s", received)
		}
		if !bd.Discount.Round().Equal(bd.Discount) {
			t.Fatalf("discount %s not rounded to cents", bd.Discount)
		}
		if bd.Payable.IsNegative() {
			t.Fatalf("negative payable %s", bd.Payable)
		}
	}
}
