package admission

import (
	"fmt"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
)

// BillingInput изменения счёта. Nil-поля не трогают текущие значения.
// Пустая строка в DiscountValue очищает значение скидки.
type BillingInput struct {
	Charges       map[domain.ChargeField]any
	DiscountType  *domain.DiscountType
	DiscountValue any
	PaidAmount    any
}

func (b BillingInput) empty() bool {
	return len(b.Charges) == 0 && b.DiscountType == nil && b.DiscountValue == nil && b.PaidAmount == nil
}

// CreateInput данные формы поступления.
type CreateInput struct {
	Patient      domain.PatientInfo
	HospitalID   string
	HospitalName string
	DepartmentID string
	DoctorID     string
	SeatNumber   string
	Billing      BillingInput
}

func (in CreateInput) intake() domain.Admission {
	return domain.Admission{
		Patient:      in.Patient,
		HospitalID:   in.HospitalID,
		HospitalName: in.HospitalName,
		DepartmentID: in.DepartmentID,
		DoctorID:     in.DoctorID,
		SeatNumber:   in.SeatNumber,
	}
}

// UpdateInput правка сохранённой госпитализации. Статус применяется последним.
type UpdateInput struct {
	Billing    BillingInput
	SeatNumber *string
	Status     *domain.AdmissionStatus
	Reason     string
}

// QuoteInput черновик счёта, который не сохраняется.
type QuoteInput struct {
	Charges       map[domain.ChargeField]any
	DiscountType  domain.DiscountType
	DiscountValue any
	PaidAmount    any
}

// Outcome результат мутации: сохранённая госпитализация и предупреждения для оператора.
type Outcome struct {
	Admission  domain.Admission
	Transition engine.Transition
	Advisories []engine.Advisory
}

// applyBilling применяет изменения счёта через движок.
// Статьи идут в порядке счёта, чтобы результат не зависел от порядка ключей в map.
func applyBilling(eng *engine.Engine, a *domain.Admission, in BillingInput) error {
	for field := range in.Charges {
		if !field.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrUnknownChargeField, field)
		}
	}
	for _, field := range domain.ChargeFields() {
		raw, ok := in.Charges[field]
		if !ok {
			continue
		}
		if err := eng.SetCharge(a, field, raw); err != nil {
			return err
		}
	}

	if in.DiscountType != nil {
		if err := eng.SetDiscountType(a, *in.DiscountType); err != nil {
			return err
		}
	}
	if in.DiscountValue != nil {
		eng.SetDiscountValue(a, in.DiscountValue)
	}
	if in.PaidAmount != nil {
		eng.SetPaidAmount(a, in.PaidAmount)
	}
	return nil
}
