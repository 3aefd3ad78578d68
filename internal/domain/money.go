package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces число знаков после запятой, с которым хранятся суммы (минимальные единицы валюты).
const MoneyPlaces = 2

// DiscountValuePlaces масштаб, с которым хранится значение скидки.
const DiscountValuePlaces = 4

// Границы разбора: порядок числа проверяется до округления, модуль после.
const (
	maxInputExponent = 12
	minInputExponent = -32
)

var (
	hundred = decimal.NewFromInt(100)

	// MaxAmount исключающая верхняя граница суммы. Десять статей ниже неё
	// помещаются в NUMERIC(14,2) итогов.
	MaxAmount = decimal.New(1, 11)
)

// ParseAmount приводит сырой ввод формы к денежной сумме.
// Пустое или нечисловое значение молча превращается в ноль, это не ошибка.
func ParseAmount(raw any) decimal.Decimal {
	d, ok := parseDecimal(raw)
	if !ok {
		return decimal.Zero
	}
	return d.Round(MoneyPlaces)
}

// parseDecimal разбирает число из значений, которые приходят из JSON, форм и кода.
// Число вне допустимого диапазона считается нечисловым.
func parseDecimal(raw any) (decimal.Decimal, bool) {
	d, ok := parseRaw(raw)
	if !ok || !withinBounds(d) {
		return decimal.Zero, false
	}
	return d, true
}

// withinBounds смотрит на экспоненту раньше модуля: сравнение и округление
// числа вида 1e100000000 строят огромный big.Int.
func withinBounds(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxInputExponent || exp < minInputExponent {
		return false
	}
	return d.Abs().LessThan(MaxAmount)
}

func parseRaw(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case decimal.NullDecimal:
		return v.Decimal, v.Valid
	case string:
		return parseDecimalString(v)
	case json.Number:
		return parseDecimalString(v.String())
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Zero, false
	}
}

func parseDecimalString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseNonNegativeAmount ParseAmount с отсечением отрицательных значений в ноль.
func ParseNonNegativeAmount(raw any) decimal.Decimal {
	return nonNegative(ParseAmount(raw))
}
