package domain

import "github.com/shopspring/decimal"

// Totals производные суммы госпитализации. Пишутся только пересчётом.
type Totals struct {
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	GrandTotal     decimal.Decimal
	// DueAmount может быть отрицательным при переплате.
	DueAmount decimal.Decimal
}

// ComputeTotals пересчитывает итоги из начислений, скидки и оплаты.
func ComputeTotals(charges ChargeSet, discount DiscountSpec, paid decimal.Decimal) Totals {
	total := charges.Subtotal()
	discountAmount := discount.Amount(total)
	grand := total.Sub(discountAmount)
	return Totals{
		TotalAmount:    total,
		DiscountAmount: discountAmount,
		GrandTotal:     grand,
		DueAmount:      grand.Sub(paid),
	}
}

// Equal сравнивает итоги по значению, без учёта масштаба decimal.
func (t Totals) Equal(other Totals) bool {
	return t.TotalAmount.Equal(other.TotalAmount) &&
		t.DiscountAmount.Equal(other.DiscountAmount) &&
		t.GrandTotal.Equal(other.GrandTotal) &&
		t.DueAmount.Equal(other.DueAmount)
}
