package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

func TestComputeDiscount(t *testing.T) {
	cases := []struct {
		name     string
		spec     domain.DiscountSpec
		subtotal string
		want     string
	}{
		{name: "none", spec: domain.NoDiscount(), subtotal: "1000", want: "0"},
		{name: "zero value spec", spec: domain.DiscountSpec{}, subtotal: "1000", want: "0"},
		{name: "percentage", spec: domain.PercentageDiscount(dec("10")), subtotal: "1000", want: "100"},
		{name: "percentage rounds", spec: domain.PercentageDiscount(dec("33.333")), subtotal: "100", want: "33.33"},
		{name: "percentage over 100 clamps", spec: domain.PercentageDiscount(dec("150")), subtotal: "1000", want: "1000"},
		{name: "fixed", spec: domain.FixedDiscount(dec("250")), subtotal: "1000", want: "250"},
		{name: "fixed over subtotal clamps", spec: domain.FixedDiscount(dec("500")), subtotal: "300", want: "300"},
		{name: "negative fixed floors", spec: domain.FixedDiscount(dec("-20")), subtotal: "300", want: "0"},
		{name: "null value", spec: domain.DiscountSpec{Type: domain.DiscountFixed}, subtotal: "300", want: "0"},
		{name: "zero subtotal", spec: domain.PercentageDiscount(dec("50")), subtotal: "0", want: "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.ComputeDiscount(tc.spec, dec(tc.subtotal))
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("ComputeDiscount = %s, want %s", got, tc.want)
			}
			if !tc.spec.Amount(dec(tc.subtotal)).Equal(got) {
				t.Fatalf("Amount must match ComputeDiscount")
			}
		})
	}
}

func TestDiscountSwitchTypeKeepsValue(t *testing.T) {
	spec := domain.PercentageDiscount(dec("10")).SwitchType(domain.DiscountFixed)

	if spec.Type != domain.DiscountFixed {
		t.Fatalf("type %s, want fixed", spec.Type)
	}
	if !spec.Value.Valid || !spec.Value.Decimal.Equal(dec("10")) {
		t.Fatalf("value must be kept, got %+v", spec.Value)
	}
	if got := spec.Amount(dec("300")); !got.Equal(dec("10")) {
		t.Fatalf("fixed 10 of 300 = %s", got)
	}
}

func TestDiscountWithValue(t *testing.T) {
	spec := domain.NoDiscount().SwitchType(domain.DiscountPercentage).WithValue("12.5")
	if !spec.Value.Valid || !spec.Value.Decimal.Equal(dec("12.5")) {
		t.Fatalf("unexpected value %+v", spec.Value)
	}

	for _, raw := range []any{"", "abc", nil} {
		cleared := spec.WithValue(raw)
		if cleared.Value.Valid {
			t.Fatalf("input %v must clear the value", raw)
		}
		if !cleared.Amount(dec("1000")).IsZero() {
			t.Fatalf("cleared value must give zero discount")
		}
	}
}

func TestParseDiscountType(t *testing.T) {
	got, err := domain.ParseDiscountType("")
	if err != nil || got != domain.DiscountNone {
		t.Fatalf("empty type = %q, %v", got, err)
	}
	got, err = domain.ParseDiscountType(" Percentage ")
	if err != nil || got != domain.DiscountPercentage {
		t.Fatalf("percentage = %q, %v", got, err)
	}
	if _, err := domain.ParseDiscountType("coupon"); !errors.Is(err, domain.ErrInvalidDiscountType) {
		t.Fatalf("expected ErrInvalidDiscountType, got %v", err)
	}
}

func TestDiscountWithValue_RoundsToStoredScale(t *testing.T) {
	charges := domain.NewChargeSet(dec("1000"))
	spec := domain.NoDiscount().SwitchType(domain.DiscountPercentage).WithValue("10.00049")

	if !spec.Value.Decimal.Equal(dec("10.0005")) {
		t.Fatalf("value must be rounded to %d places, got %s", domain.DiscountValuePlaces, spec.Value.Decimal)
	}

	before := domain.ComputeTotals(charges, spec, dec("0"))
	// Значение в том виде, в каком его вернёт колонка NUMERIC(18,4).
	reloaded := spec.WithValue(spec.Value.Decimal.StringFixed(domain.DiscountValuePlaces))
	after := domain.ComputeTotals(charges, reloaded, dec("0"))

	if !before.Equal(after) {
		t.Fatalf("totals changed after reload: %+v vs %+v", before, after)
	}
	if !before.DiscountAmount.Equal(dec("100.01")) {
		t.Fatalf("discount = %s, want 100.01", before.DiscountAmount)
	}
}

func TestDiscountWithValue_OutOfRangeClears(t *testing.T) {
	spec := domain.FixedDiscount(dec("50")).WithValue("1e100000000")
	if spec.Value.Valid {
		t.Fatalf("out of range value must clear the discount, got %s", spec.Value.Decimal)
	}
	if spec.Type != domain.DiscountFixed {
		t.Fatalf("type must be kept, got %s", spec.Type)
	}
}
