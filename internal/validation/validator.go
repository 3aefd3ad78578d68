// Package validation проверяет госпитализацию перед сохранением.
// Валидатор не хранит состояния, не мутирует вход и не паникует.
package validation

import (
	"strings"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

// Сообщения проверок. Порядок вывода фиксирован и совпадает с порядком полей формы.
const (
	MsgHospitalRequired         = "hospital name is required"
	MsgPatientFirstNameRequired = "patient first name is required"
	MsgPatientGenderRequired    = "patient gender is required"
	MsgPatientPhoneRequired     = "patient phone is required"
	MsgPatientDOBRequired       = "patient date of birth is required"
	MsgDepartmentRequired       = "department is required"
	MsgDoctorRequired           = "doctor is required"
	MsgPhoneInvalid             = "patient phone number is invalid"
	MsgEmailInvalid             = "patient email is invalid"
	MsgSeatRequiredForRent      = "room/seat number required when charging seat rent"
)

// FormatChecker проверяет формат контактных данных.
type FormatChecker interface {
	ValidPhone(phone string) bool
	ValidEmail(email string) bool
}

// Result итог проверки. Messages пуст, когда Valid.
type Result struct {
	Valid    bool
	Messages []string
}

func newResult(messages []string) Result {
	return Result{Valid: len(messages) == 0, Messages: messages}
}

// Validator реализует проверки создания и редактирования.
type Validator struct {
	formats FormatChecker
}

// New создаёт валидатор. Без FormatChecker проверки формата пропускаются.
func New(formats FormatChecker) *Validator {
	return &Validator{formats: formats}
}

// ValidateCreate проверяет обязательные поля новой госпитализации, затем форматы.
func (v *Validator) ValidateCreate(a domain.Admission) Result {
	var messages []string
	require := func(value, msg string) {
		if strings.TrimSpace(value) == "" {
			messages = append(messages, msg)
		}
	}

	require(a.HospitalName, MsgHospitalRequired)
	require(a.Patient.FirstName, MsgPatientFirstNameRequired)
	require(a.Patient.Gender, MsgPatientGenderRequired)
	require(a.Patient.Phone, MsgPatientPhoneRequired)
	if a.Patient.DateOfBirth == nil || a.Patient.DateOfBirth.IsZero() {
		messages = append(messages, MsgPatientDOBRequired)
	}
	require(a.DepartmentID, MsgDepartmentRequired)
	require(a.DoctorID, MsgDoctorRequired)

	if v.formats != nil {
		phone := strings.TrimSpace(a.Patient.Phone)
		if phone != "" && !v.formats.ValidPhone(phone) {
			messages = append(messages, MsgPhoneInvalid)
		}
		email := strings.TrimSpace(a.Patient.Email)
		if email != "" && !v.formats.ValidEmail(email) {
			messages = append(messages, MsgEmailInvalid)
		}
	}

	return newResult(messages)
}

// ValidateEdit проверяет госпитализацию перед каждым сохранением изменений.
func (v *Validator) ValidateEdit(a domain.Admission) Result {
	var messages []string
	if a.Charges.SeatRent.IsPositive() && strings.TrimSpace(a.SeatNumber) == "" {
		messages = append(messages, MsgSeatRequiredForRent)
	}
	return newResult(messages)
}
