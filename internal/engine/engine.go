// Package engine содержит чистую логику счёта и статусов госпитализации.
// Все мутации синхронны и заканчиваются полным пересчётом итогов.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/pricing"
)

// AdvisoryCode код предупреждения, которое возвращается вместе с результатом.
type AdvisoryCode string

// AdvisoryManualRefund при отмене оплаченной госпитализации деньги возвращаются вручную.
const AdvisoryManualRefund AdvisoryCode = "manual_refund_required"

// Advisory предупреждение для оператора. Не ошибка: мутация уже применена.
type Advisory struct {
	Code    AdvisoryCode
	Message string
	Amount  decimal.Decimal
}

// Transition описывает результат смены статуса.
type Transition struct {
	From       domain.AdmissionStatus
	To         domain.AdmissionStatus
	Canceled   bool
	Restored   bool
	Discharged bool
	Advisories []Advisory
}

// Changed статус действительно поменялся.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени (для тестов и воспроизводимых дат).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов госпитализаций.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// Engine применяет операции над счётом и статусом госпитализации.
type Engine struct {
	pricing domain.PricingConfig
	now     func() time.Time
	newID   func() string
}

// New создаёт движок. Без прайса используется сбор по умолчанию.
func New(prices domain.PricingConfig, opts ...Option) *Engine {
	if prices == nil {
		prices = pricing.NewStatic(pricing.DefaultAdmissionFee)
	}
	e := &Engine{
		pricing: prices,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultAdmissionFee возвращает текущий сбор за поступление из прайса.
func (e *Engine) DefaultAdmissionFee() decimal.Decimal {
	return e.pricing.DefaultAdmissionFee()
}

// NewAdmission оформляет госпитализацию: ссылки и пациент берутся из intake,
// поля жизненного цикла и счёта получают значения по умолчанию.
func (e *Engine) NewAdmission(intake domain.Admission) domain.Admission {
	now := e.now()
	id := intake.ID
	if id == "" {
		id = e.newID()
	}

	a := domain.Admission{
		ID:              id,
		AdmissionNumber: admissionNumber(now, id),
		Patient:         intake.Patient,
		HospitalID:      intake.HospitalID,
		HospitalName:    intake.HospitalName,
		DepartmentID:    intake.DepartmentID,
		DoctorID:        intake.DoctorID,
		SeatNumber:      intake.SeatNumber,
		Status:          domain.AdmissionStatusAdmitted,
		DateAdmitted:    now,
		Charges:         domain.NewChargeSet(e.pricing.DefaultAdmissionFee()),
		Discount:        domain.NoDiscount(),
		PaidAmount:      decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.Recompute()
	return a
}

// admissionNumber формирует номер вида ADM-YYYYMMDD-XXXXXXXX.
func admissionNumber(at time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ADM-%s-%s", at.Format("20060102"), suffix)
}

// SetCharge записывает статью начислений и пересчитывает итоги.
func (e *Engine) SetCharge(a *domain.Admission, field domain.ChargeField, raw any) error {
	if err := a.Charges.Set(field, raw); err != nil {
		return err
	}
	a.Recompute()
	return nil
}

// SetDiscountType меняет тип скидки, сохраняя введённое значение.
func (e *Engine) SetDiscountType(a *domain.Admission, t domain.DiscountType) error {
	if t == "" {
		t = domain.DiscountNone
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDiscountType, t)
	}
	a.Discount = a.Discount.SwitchType(t)
	a.Recompute()
	return nil
}

// SetDiscountValue записывает значение скидки; пустой ввод его очищает.
func (e *Engine) SetDiscountValue(a *domain.Admission, raw any) {
	a.Discount = a.Discount.WithValue(raw)
	a.Recompute()
}

// SetPaidAmount записывает оплаченную сумму. Отрицательный ввод обрезается до нуля.
func (e *Engine) SetPaidAmount(a *domain.Admission, raw any) {
	a.PaidAmount = domain.ParseNonNegativeAmount(raw)
	a.Recompute()
}

// RequestStatus переводит госпитализацию в статус next. Допустим любой переход.
// Отмена обнуляет все начисления, выход из отмены возвращает сбор за поступление,
// вход в discharged ставит дату выписки.
func (e *Engine) RequestStatus(a *domain.Admission, next domain.AdmissionStatus) (Transition, error) {
	if !next.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, next)
	}

	tr := Transition{From: a.Status, To: next}

	switch {
	case next == domain.AdmissionStatusCanceled:
		// Повторная отмена тоже обнуляет: начисления могли измениться после первой.
		a.Charges.ZeroAll()
		tr.Canceled = true
		if a.PaidAmount.IsPositive() {
			tr.Advisories = append(tr.Advisories, Advisory{
				Code:    AdvisoryManualRefund,
				Message: fmt.Sprintf("admission canceled with %s already paid: refund must be issued manually", a.PaidAmount.StringFixed(domain.MoneyPlaces)),
				Amount:  a.PaidAmount,
			})
		}
	case a.Status == domain.AdmissionStatusCanceled:
		a.Charges.ResetToDefaultFee(e.pricing.DefaultAdmissionFee())
		tr.Restored = true
	}

	if next == domain.AdmissionStatusDischarged && a.Status != domain.AdmissionStatusDischarged {
		at := e.now()
		a.DateDischarged = &at
		tr.Discharged = true
	}

	a.Status = next
	a.Recompute()
	return tr, nil
}

// Cancel отдельное действие отмены.
func (e *Engine) Cancel(a *domain.Admission) Transition {
	tr, _ := e.RequestStatus(a, domain.AdmissionStatusCanceled)
	return tr
}

// Quote считает итоги для несохранённого черновика.
func (e *Engine) Quote(charges domain.ChargeSet, discount domain.DiscountSpec, paid any) domain.Totals {
	return domain.ComputeTotals(charges, discount, domain.ParseNonNegativeAmount(paid))
}
