package domain

import (
	"fmt"
	"strings"
)

// AdmissionStatus описывает жизненный цикл госпитализации.
type AdmissionStatus string

const (
	// AdmissionStatusAdmitted пациент поступил, начальный статус.
	AdmissionStatusAdmitted AdmissionStatus = "admitted"
	// AdmissionStatusUnderTreatment идёт лечение.
	AdmissionStatusUnderTreatment AdmissionStatus = "under_treatment"
	// AdmissionStatusAwaitingDischarge лечение завершено, ждём выписки.
	AdmissionStatusAwaitingDischarge AdmissionStatus = "awaiting_discharge"
	// AdmissionStatusDischarged пациент выписан.
	AdmissionStatusDischarged AdmissionStatus = "discharged"
	// AdmissionStatusCanceled госпитализация отменена, начисления обнулены.
	AdmissionStatusCanceled AdmissionStatus = "canceled"
)

var selectableStatuses = []AdmissionStatus{
	AdmissionStatusAdmitted,
	AdmissionStatusUnderTreatment,
	AdmissionStatusAwaitingDischarge,
	AdmissionStatusDischarged,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s AdmissionStatus) Valid() bool {
	return s == AdmissionStatusCanceled || s.Selectable()
}

// Selectable статус можно выбрать напрямую; отмена идёт отдельным действием.
func (s AdmissionStatus) Selectable() bool {
	for _, known := range selectableStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// SelectableStatuses возвращает статусы, доступные для прямого выбора.
func SelectableStatuses() []AdmissionStatus {
	result := make([]AdmissionStatus, len(selectableStatuses))
	copy(result, selectableStatuses)
	return result
}

// ParseAdmissionStatus разбирает статус из ввода.
func ParseAdmissionStatus(raw string) (AdmissionStatus, error) {
	s := AdmissionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}
