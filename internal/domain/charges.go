package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ChargeField идентифицирует статью начислений госпитализации.
type ChargeField string

const (
	ChargeService         ChargeField = "service_charge"
	ChargeSeatRent        ChargeField = "seat_rent"
	ChargeOT              ChargeField = "ot_charge"
	ChargeDoctor          ChargeField = "doctor_charge"
	ChargeSurgeon         ChargeField = "surgeon_charge"
	ChargeAnesthesia      ChargeField = "anesthesia_fee"
	ChargeAssistantDoctor ChargeField = "assistant_doctor_fee"
	ChargeMedicine        ChargeField = "medicine_charge"
	ChargeOther           ChargeField = "other_charges"
	// ChargeAdmissionFee фиксированный сбор за поступление, по умолчанию берётся из прайса.
	ChargeAdmissionFee ChargeField = "admission_fee"
)

var chargeFields = []ChargeField{
	ChargeService,
	ChargeSeatRent,
	ChargeOT,
	ChargeDoctor,
	ChargeSurgeon,
	ChargeAnesthesia,
	ChargeAssistantDoctor,
	ChargeMedicine,
	ChargeOther,
	ChargeAdmissionFee,
}

// ChargeFields возвращает все статьи в порядке отображения в счёте.
func ChargeFields() []ChargeField {
	result := make([]ChargeField, len(chargeFields))
	copy(result, chargeFields)
	return result
}

// Valid проверяет, что статья известна.
func (f ChargeField) Valid() bool {
	for _, known := range chargeFields {
		if f == known {
			return true
		}
	}
	return false
}

// ChargeSet хранит детализированные начисления по госпитализации.
type ChargeSet struct {
	ServiceCharge      decimal.Decimal
	SeatRent           decimal.Decimal
	OTCharge           decimal.Decimal
	DoctorCharge       decimal.Decimal
	SurgeonCharge      decimal.Decimal
	AnesthesiaFee      decimal.Decimal
	AssistantDoctorFee decimal.Decimal
	MedicineCharge     decimal.Decimal
	OtherCharges       decimal.Decimal
	AdmissionFee       decimal.Decimal
}

// NewChargeSet возвращает начисления новой госпитализации: только сбор за поступление.
func NewChargeSet(admissionFee decimal.Decimal) ChargeSet {
	return ChargeSet{AdmissionFee: nonNegative(admissionFee)}
}

func (c *ChargeSet) field(f ChargeField) *decimal.Decimal {
	switch f {
	case ChargeService:
		return &c.ServiceCharge
	case ChargeSeatRent:
		return &c.SeatRent
	case ChargeOT:
		return &c.OTCharge
	case ChargeDoctor:
		return &c.DoctorCharge
	case ChargeSurgeon:
		return &c.SurgeonCharge
	case ChargeAnesthesia:
		return &c.AnesthesiaFee
	case ChargeAssistantDoctor:
		return &c.AssistantDoctorFee
	case ChargeMedicine:
		return &c.MedicineCharge
	case ChargeOther:
		return &c.OtherCharges
	case ChargeAdmissionFee:
		return &c.AdmissionFee
	default:
		return nil
	}
}

// Get возвращает значение статьи; для неизвестной статьи ноль.
func (c ChargeSet) Get(f ChargeField) decimal.Decimal {
	if p := c.field(f); p != nil {
		return *p
	}
	return decimal.Zero
}

// Set записывает сырой ввод в статью. Нечисловой ввод становится нулём,
// отрицательный обрезается до нуля. Ошибка возможна только для неизвестной статьи.
func (c *ChargeSet) Set(f ChargeField, raw any) error {
	p := c.field(f)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownChargeField, f)
	}
	*p = ParseNonNegativeAmount(raw)
	return nil
}

// Subtotal сумма всех статей до скидки.
func (c ChargeSet) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, f := range chargeFields {
		total = total.Add(c.Get(f))
	}
	return total
}

// ZeroAll обнуляет все статьи, включая сбор за поступление (побочный эффект отмены).
func (c *ChargeSet) ZeroAll() {
	*c = ChargeSet{}
}

// ResetToDefaultFee возвращает сбор за поступление к значению из прайса,
// остальные статьи не трогает (побочный эффект восстановления).
func (c *ChargeSet) ResetToDefaultFee(fee decimal.Decimal) {
	c.AdmissionFee = nonNegative(fee)
}
