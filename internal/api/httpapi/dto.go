package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	"github.com/vladislavdragonenkov/hms/internal/service/admission"
)

const dateLayout = "2006-01-02"

type patientDTO struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Gender      string `json:"gender"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

func (p patientDTO) toDomain() (domain.PatientInfo, error) {
	info := domain.PatientInfo{
		ID:        strings.TrimSpace(p.ID),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Gender:    p.Gender,
		Phone:     p.Phone,
		Email:     p.Email,
	}
	if dob := strings.TrimSpace(p.DateOfBirth); dob != "" {
		parsed, err := time.Parse(dateLayout, dob)
		if err != nil {
			return domain.PatientInfo{}, badRequest("date_of_birth must be YYYY-MM-DD")
		}
		info.DateOfBirth = &parsed
	}
	return info, nil
}

func patientFromDomain(p domain.PatientInfo) patientDTO {
	dto := patientDTO{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Gender:    p.Gender,
		Phone:     p.Phone,
		Email:     p.Email,
	}
	if p.DateOfBirth != nil {
		dto.DateOfBirth = p.DateOfBirth.Format(dateLayout)
	}
	return dto
}

// billingDTO общие поля счёта в запросах. discount_value, равное null или "",
// очищает значение скидки; отсутствующее поле его не трогает.
type billingDTO struct {
	Charges       map[string]any  `json:"charges,omitempty"`
	DiscountType  *string         `json:"discount_type,omitempty"`
	DiscountValue json.RawMessage `json:"discount_value,omitempty"`
	PaidAmount    any             `json:"paid_amount,omitempty"`
}

func (b billingDTO) toInput() (admission.BillingInput, error) {
	discountValue, err := decodeDiscountValue(b.DiscountValue)
	if err != nil {
		return admission.BillingInput{}, err
	}
	in := admission.BillingInput{
		DiscountValue: discountValue,
		PaidAmount:    b.PaidAmount,
	}
	if len(b.Charges) > 0 {
		in.Charges = make(map[domain.ChargeField]any, len(b.Charges))
		for name, raw := range b.Charges {
			in.Charges[domain.ChargeField(name)] = raw
		}
	}
	if b.DiscountType != nil {
		t, err := domain.ParseDiscountType(*b.DiscountType)
		if err != nil {
			return admission.BillingInput{}, err
		}
		in.DiscountType = &t
	}
	return in, nil
}

var jsonNull = []byte("null")

// decodeDiscountValue отличает явный null от отсутствующего поля.
func decodeDiscountValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if bytes.Equal(raw, jsonNull) {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, badRequest("invalid discount_value: " + err.Error())
	}
	return v, nil
}

type createRequest struct {
	Patient      patientDTO `json:"patient"`
	HospitalID   string     `json:"hospital_id"`
	HospitalName string     `json:"hospital_name"`
	DepartmentID string     `json:"department_id"`
	DoctorID     string     `json:"doctor_id"`
	SeatNumber   string     `json:"seat_number"`
	billingDTO
}

func (r createRequest) toInput() (admission.CreateInput, error) {
	patient, err := r.Patient.toDomain()
	if err != nil {
		return admission.CreateInput{}, err
	}
	billing, err := r.billingDTO.toInput()
	if err != nil {
		return admission.CreateInput{}, err
	}
	return admission.CreateInput{
		Patient:      patient,
		HospitalID:   r.HospitalID,
		HospitalName: r.HospitalName,
		DepartmentID: r.DepartmentID,
		DoctorID:     r.DoctorID,
		SeatNumber:   r.SeatNumber,
		Billing:      billing,
	}, nil
}

type updateRequest struct {
	SeatNumber *string `json:"seat_number,omitempty"`
	Status     *string `json:"status,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	billingDTO
}

func (r updateRequest) toInput() (admission.UpdateInput, error) {
	billing, err := r.billingDTO.toInput()
	if err != nil {
		return admission.UpdateInput{}, err
	}
	in := admission.UpdateInput{
		Billing:    billing,
		SeatNumber: r.SeatNumber,
		Reason:     r.Reason,
	}
	if r.Status != nil {
		status, err := parseSelectableStatus(*r.Status)
		if err != nil {
			return admission.UpdateInput{}, err
		}
		in.Status = &status
	}
	return in, nil
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type quoteRequest struct {
	Charges       map[string]any `json:"charges,omitempty"`
	DiscountType  string         `json:"discount_type,omitempty"`
	DiscountValue any            `json:"discount_value,omitempty"`
	PaidAmount    any            `json:"paid_amount,omitempty"`
}

func (r quoteRequest) toInput() (admission.QuoteInput, error) {
	discountType, err := domain.ParseDiscountType(r.DiscountType)
	if err != nil {
		return admission.QuoteInput{}, err
	}
	in := admission.QuoteInput{
		DiscountType:  discountType,
		DiscountValue: r.DiscountValue,
		PaidAmount:    r.PaidAmount,
		Charges:       make(map[domain.ChargeField]any, len(r.Charges)),
	}
	for name, raw := range r.Charges {
		in.Charges[domain.ChargeField(name)] = raw
	}
	return in, nil
}

// parseSelectableStatus пропускает только статусы для прямого выбора: отмена идёт через /cancel.
func parseSelectableStatus(raw string) (domain.AdmissionStatus, error) {
	status, err := domain.ParseAdmissionStatus(raw)
	if err != nil {
		return "", err
	}
	if !status.Selectable() {
		return "", fmt.Errorf("%w: %q is set by the cancel action", domain.ErrInvalidStatus, raw)
	}
	return status, nil
}

type discountDTO struct {
	Type  domain.DiscountType `json:"type"`
	Value *string             `json:"value"`
}

type totalsDTO struct {
	TotalAmount    string `json:"total_amount"`
	DiscountAmount string `json:"discount_amount"`
	GrandTotal     string `json:"grand_total"`
	DueAmount      string `json:"due_amount"`
}

type admissionDTO struct {
	ID              string                 `json:"id"`
	AdmissionNumber string                 `json:"admission_number"`
	Patient         patientDTO             `json:"patient"`
	HospitalID      string                 `json:"hospital_id"`
	HospitalName    string                 `json:"hospital_name"`
	DepartmentID    string                 `json:"department_id"`
	DoctorID        string                 `json:"doctor_id"`
	SeatNumber      string                 `json:"seat_number"`
	Status          domain.AdmissionStatus `json:"status"`
	DateAdmitted    time.Time              `json:"date_admitted"`
	DateDischarged  *time.Time             `json:"date_discharged,omitempty"`
	Charges         map[string]string      `json:"charges"`
	Discount        discountDTO            `json:"discount"`
	PaidAmount      string                 `json:"paid_amount"`
	Totals          totalsDTO              `json:"totals"`
	Currency        string                 `json:"currency,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

type advisoryDTO struct {
	Code    engine.AdvisoryCode `json:"code"`
	Message string              `json:"message"`
	Amount  string              `json:"amount"`
}

type timelineDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type mutationResponse struct {
	Admission  admissionDTO  `json:"admission"`
	Advisories []advisoryDTO `json:"advisories"`
}

type admissionResponse struct {
	Admission admissionDTO  `json:"admission"`
	Timeline  []timelineDTO `json:"timeline"`
}

type listResponse struct {
	Admissions []admissionDTO `json:"admissions"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

func totalsFromDomain(t domain.Totals) totalsDTO {
	return totalsDTO{
		TotalAmount:    money(t.TotalAmount),
		DiscountAmount: money(t.DiscountAmount),
		GrandTotal:     money(t.GrandTotal),
		DueAmount:      money(t.DueAmount),
	}
}

func admissionFromDomain(a domain.Admission, currency string) admissionDTO {
	charges := make(map[string]string, len(domain.ChargeFields()))
	for _, field := range domain.ChargeFields() {
		charges[string(field)] = money(a.Charges.Get(field))
	}

	discount := discountDTO{Type: a.Discount.Type}
	if a.Discount.Value.Valid {
		value := a.Discount.Value.Decimal.String()
		discount.Value = &value
	}

	return admissionDTO{
		ID:              a.ID,
		AdmissionNumber: a.AdmissionNumber,
		Patient:         patientFromDomain(a.Patient),
		HospitalID:      a.HospitalID,
		HospitalName:    a.HospitalName,
		DepartmentID:    a.DepartmentID,
		DoctorID:        a.DoctorID,
		SeatNumber:      a.SeatNumber,
		Status:          a.Status,
		DateAdmitted:    a.DateAdmitted,
		DateDischarged:  a.DateDischarged,
		Charges:         charges,
		Discount:        discount,
		PaidAmount:      money(a.PaidAmount),
		Totals:          totalsFromDomain(a.Totals),
		Currency:        currency,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func mutationFromOutcome(out admission.Outcome, currency string) mutationResponse {
	advisories := make([]advisoryDTO, 0, len(out.Advisories))
	for _, adv := range out.Advisories {
		advisories = append(advisories, advisoryDTO{
			Code:    adv.Code,
			Message: adv.Message,
			Amount:  money(adv.Amount),
		})
	}
	return mutationResponse{
		Admission:  admissionFromDomain(out.Admission, currency),
		Advisories: advisories,
	}
}

func timelineFromDomain(events []domain.TimelineEvent) []timelineDTO {
	result := make([]timelineDTO, 0, len(events))
	for _, e := range events {
		result = append(result, timelineDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	return result
}
