package domain

import "time"

// AggregateAdmission тип агрегата в outbox-сообщениях.
const AggregateAdmission = "admission"

// Типы событий жизненного цикла госпитализации.
const (
	EventAdmissionCreated       = "AdmissionCreated"
	EventAdmissionUpdated       = "AdmissionUpdated"
	EventAdmissionStatusChanged = "AdmissionStatusChanged"
	EventAdmissionCanceled      = "AdmissionCanceled"
	EventAdmissionRestored      = "AdmissionRestored"
	EventAdmissionDischarged    = "AdmissionDischarged"
	EventManualRefundRequired   = "ManualRefundRequired"
)

// TimelineEvent описывает событие в жизненном цикле госпитализации.
type TimelineEvent struct {
	AdmissionID string
	Type        string
	Reason      string
	Occurred    time.Time
}
