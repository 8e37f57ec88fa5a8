package procpackage

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/opd/internal/platform/apperr"
	"github.com/ehr/opd/pkg/money"
)

func item(price string, qty int) Item {
	return Item{ProcedureID: uuid.New(), ProcedureName: "proc", Quantity: qty, UnitPrice: money.MustParse(price)}
}

func mustRecompute(t *testing.T, p Package) Package {
	t.Helper()
	got, err := Recompute(p)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	return got
}

func TestRecompute_ConsultPlusTwoDressings(t *testing.T) {
	got := mustRecompute(t, Package{
		PackageCode:  "PKG-ORTHO",
		Items:        []Item{item("200.00", 1), item("150.00", 2)},
		PackagePrice: money.MustParse("400.00"),
	})
	if got.TotalBasePrice.String() != "500.00" {
		t.Errorf("expected base 500.00, got %s", got.TotalBasePrice)
	}
	if got.DiscountPercent.StringFixed(2) != "20.00" {
		t.Errorf("expected 20.00%%, got %s", got.DiscountPercent)
	}
}

func TestRecompute_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		base, price string
		want        string
	}{
		{"300.00", "200.00", "33.33"},
		{"300.00", "100.00", "66.67"},
		{"800.00", "799.96", "0.01"},
		{"800.00", "799.97", "0.00"},
		{"100.00", "0.00", "100.00"},
	}
	for _, tt := range tests {
		got := mustRecompute(t, Package{
			Items:        []Item{item(tt.base, 1)},
			PackagePrice: money.MustParse(tt.price),
		})
		if got.DiscountPercent.StringFixed(2) != tt.want {
			t.Errorf("base %s price %s: expected %s, got %s", tt.base, tt.price, tt.want, got.DiscountPercent.StringFixed(2))
		}
	}
}

func TestRecompute_PriceAboveBaseIsNoDiscount(t *testing.T) {
	got := mustRecompute(t, Package{
		Items:        []Item{item("100.00", 1)},
		PackagePrice: money.MustParse("120.00"),
	})
	if !got.DiscountPercent.IsZero() {
		t.Errorf("expected 0%%, got %s", got.DiscountPercent)
	}
}

func TestRecompute_ZeroBase(t *testing.T) {
	got := mustRecompute(t, Package{
		Items:        []Item{item("250.00", 0), item("0.00", 3)},
		PackagePrice: money.MustParse("50.00"),
	})
	if !got.TotalBasePrice.IsZero() || !got.DiscountPercent.IsZero() {
		t.Errorf("expected zero base and discount, got %s / %s", got.TotalBasePrice, got.DiscountPercent)
	}
}

func TestRecompute_EmptyComposition(t *testing.T) {
	_, err := Recompute(Package{PackageCode: "PKG-EMPTY", PackagePrice: money.FromInt(10)})
	if !errors.Is(err, apperr.ErrEmptyComposition) {
		t.Errorf("expected ErrEmptyComposition, got %v", err)
	}
}

func TestRecompute_RejectsInvalidInput(t *testing.T) {
	cases := map[string]Package{
		"negative quantity":      {Items: []Item{item("10.00", -1)}},
		"negative unit price":    {Items: []Item{item("-10.00", 1)}},
		"negative package price": {Items: []Item{item("10.00", 1)}, PackagePrice: money.MustParse("-1.00")},
		"quantity beyond column": {Items: []Item{item("0.01", MaxQuantity+1)}},
		"package price too big":  {Items: []Item{item("10.00", 1)}, PackagePrice: money.MustParse("1000000000000.00")},
		"base price too big":     {Items: []Item{item("999999999999.99", 2)}},
	}
	for name, p := range cases {
		if _, err := Recompute(p); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestRecompute_AcceptsLargestQuantity(t *testing.T) {
	got := mustRecompute(t, Package{Items: []Item{item("0.01", MaxQuantity)}})
	if got.TotalBasePrice.String() != "21474836.47" {
		t.Errorf("unexpected base %s", got.TotalBasePrice)
	}
}

func TestRecompute_DoesNotMutateInput(t *testing.T) {
	p := Package{
		Items:        []Item{item("100.00", 2)},
		PackagePrice: money.MustParse("150.00"),
	}
	got := mustRecompute(t, p)

	got.Items[0].Quantity = 9
	if p.Items[0].Quantity != 2 {
		t.Error("result shares items with the input")
	}
	if !p.TotalBasePrice.IsZero() || !p.DiscountPercent.IsZero() {
		t.Error("input derived fields were written")
	}
}

func TestRecompute_PercentStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	hundred := decimal.NewFromInt(100)

	for i := 0; i < 1000; i++ {
		n := rng.Intn(4) + 1
		items := make([]Item, n)
		for j := range items {
			items[j] = Item{
				ProcedureID: uuid.New(),
				Quantity:    rng.Intn(4),
				UnitPrice:   money.FromCents(rng.Int63n(100000)),
			}
		}
		p := Package{Items: items, PackagePrice: money.FromCents(rng.Int63n(200000))}
		got := mustRecompute(t, p)

		var base money.Money
		for _, it := range items {
			base = base.Add(it.LineTotal())
		}
		if !base.Equal(got.TotalBasePrice) {
			t.Fatalf("base %s != %s", got.TotalBasePrice, base)
		}
		if got.DiscountPercent.IsNegative() || got.DiscountPercent.GreaterThan(hundred) {
			t.Fatalf("discount %s out of range", got.DiscountPercent)
		}
		if !p.PackagePrice.LessThan(base) && !got.DiscountPercent.IsZero() {
			t.Fatalf("expected 0%% when price %s >= base %s", p.PackagePrice, base)
		}
	}
}
