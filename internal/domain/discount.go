package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountType вариант скидки.
type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Valid проверяет, что тип скидки поддерживается.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountNone, DiscountPercentage, DiscountFixed:
		return true
	default:
		return false
	}
}

// ParseDiscountType разбирает тип скидки из ввода; пустая строка означает отсутствие скидки.
func ParseDiscountType(raw string) (DiscountType, error) {
	t := DiscountType(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return DiscountNone, nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDiscountType, raw)
	}
	return t, nil
}

// DiscountSpec описывает скидку: тип и необязательное значение.
// Для процентной скидки Value хранит процент, для фиксированной сумму.
type DiscountSpec struct {
	Type  DiscountType
	Value decimal.NullDecimal
}

// NoDiscount возвращает скидку по умолчанию.
func NoDiscount() DiscountSpec {
	return DiscountSpec{Type: DiscountNone}
}

// PercentageDiscount скидка в процентах от подытога.
func PercentageDiscount(percent decimal.Decimal) DiscountSpec {
	return NoDiscount().SwitchType(DiscountPercentage).WithValue(percent)
}

// FixedDiscount скидка фиксированной суммой.
func FixedDiscount(amount decimal.Decimal) DiscountSpec {
	return NoDiscount().SwitchType(DiscountFixed).WithValue(amount)
}

// SwitchType меняет тип скидки, сохраняя введённое значение как есть.
func (d DiscountSpec) SwitchType(t DiscountType) DiscountSpec {
	d.Type = t
	return d
}

// WithValue записывает сырой ввод, округлённый до DiscountValuePlaces знаков,
// чтобы итоги после чтения из хранилища совпадали с сохранёнными.
// Пустое или нечисловое значение очищает его.
func (d DiscountSpec) WithValue(raw any) DiscountSpec {
	v, ok := parseDecimal(raw)
	if !ok {
		d.Value = decimal.NullDecimal{}
		return d
	}
	d.Value = decimal.NewNullDecimal(v.Round(DiscountValuePlaces))
	return d
}

// Amount возвращает сумму скидки для данного подытога.
func (d DiscountSpec) Amount(subtotal decimal.Decimal) decimal.Decimal {
	return ComputeDiscount(d, subtotal)
}

// ComputeDiscount считает скидку и зажимает её в [0, subtotal].
// Процентная скидка округляется до копеек до зажатия.
func ComputeDiscount(spec DiscountSpec, subtotal decimal.Decimal) decimal.Decimal {
	if !spec.Value.Valid {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch spec.Type {
	case DiscountPercentage:
		amount = subtotal.Mul(spec.Value.Decimal).Div(hundred).Round(MoneyPlaces)
	case DiscountFixed:
		amount = spec.Value.Decimal
	default:
		return decimal.Zero
	}

	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return nonNegative(amount)
}
