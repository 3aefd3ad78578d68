// Package pricing отдаёт прайсовые значения, которые движок подставляет по умолчанию.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

// DefaultAdmissionFee сбор за поступление, если в конфигурации не задан другой.
var DefaultAdmissionFee = decimal.NewFromInt(300)

// Static неизменяемый прайс, прочитанный из конфигурации при старте.
type Static struct {
	admissionFee decimal.Decimal
}

var _ domain.PricingConfig = (*Static)(nil)

// NewStatic создаёт прайс с заданным сбором. Отрицательное значение заменяется значением по умолчанию.
func NewStatic(admissionFee decimal.Decimal) *Static {
	if admissionFee.IsNegative() {
		admissionFee = DefaultAdmissionFee
	}
	return &Static{admissionFee: admissionFee.Round(domain.MoneyPlaces)}
}

// ParseStatic разбирает сбор из строки конфигурации; пустая строка даёт значение по умолчанию.
func ParseStatic(raw string) (*Static, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewStatic(DefaultAdmissionFee), nil
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse default admission fee %q: %w", raw, err)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("default admission fee must be non-negative, got %s", fee)
	}
	return NewStatic(fee), nil
}

// DefaultAdmissionFee возвращает сбор за поступление.
func (s *Static) DefaultAdmissionFee() decimal.Decimal {
	return s.admissionFee
}
