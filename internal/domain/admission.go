package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PatientInfo снимок данных пациента на момент оформления.
type PatientInfo struct {
	ID          string
	FirstName   string
	LastName    string
	Gender      string
	Phone       string
	Email       string
	DateOfBirth *time.Time
}

// FullName склеивает имя и фамилию для отображения.
func (p PatientInfo) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Admission агрегирует состояние госпитализации: ссылки, статус и счёт.
type Admission struct {
	ID string
	// AdmissionNumber присваивается один раз при создании и не меняется.
	AdmissionNumber string
	Patient         PatientInfo
	HospitalID      string
	HospitalName    string
	DepartmentID    string
	DoctorID        string
	SeatNumber      string
	Status          AdmissionStatus
	DateAdmitted    time.Time
	// DateDischarged проставляется только при переходе в discharged и больше не очищается.
	DateDischarged *time.Time
	Charges        ChargeSet
	Discount       DiscountSpec
	PaidAmount     decimal.Decimal
	Totals         Totals
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Recompute пересчитывает итоги. Вызывается после каждой мутации.
func (a *Admission) Recompute() {
	a.Totals = ComputeTotals(a.Charges, a.Discount, a.PaidAmount)
}

// ValidateInvariants проверяет инварианты счёта и возвращает список замечаний.
func (a *Admission) ValidateInvariants() []error {
	var errs []error

	if a.ID == "" {
		errs = append(errs, ErrAdmissionIDRequired)
	}
	if !a.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if a.Status == AdmissionStatusDischarged && a.DateDischarged == nil {
		errs = append(errs, ErrDischargeDateMissing)
	}
	for _, f := range chargeFields {
		if a.Charges.Get(f).IsNegative() {
			errs = append(errs, ErrChargeNegative)
			break
		}
	}
	if a.PaidAmount.IsNegative() {
		errs = append(errs, ErrPaidAmountNegative)
	}
	if a.Totals.DiscountAmount.IsNegative() || a.Totals.DiscountAmount.GreaterThan(a.Totals.TotalAmount) {
		errs = append(errs, ErrDiscountOutOfRange)
	}
	if !a.Totals.Equal(ComputeTotals(a.Charges, a.Discount, a.PaidAmount)) {
		errs = append(errs, ErrTotalsMismatch)
	}

	return errs
}
