package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicAdmissionEvents = "hms.admission.events"
	TopicDeadLetterQueue = "hms.dlq"
)

// Kafka headers для retry логики и маршрутизации.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope формат сообщения, которое outbox публикует в топик событий.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// RefundAdvisory полезная нагрузка события ManualRefundRequired.
type RefundAdvisory struct {
	AdmissionID     string `json:"admission_id"`
	AdmissionNumber string `json:"admission_number"`
	PatientID       string `json:"patient_id"`
	Amount          string `json:"amount"`
	Message         string `json:"message"`
}

// ParseEnvelope разбирает Envelope из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

// ParseRefundAdvisory разбирает payload ManualRefundRequired.
func ParseRefundAdvisory(envelope *Envelope) (*RefundAdvisory, error) {
	var advisory RefundAdvisory
	if err := json.Unmarshal(envelope.Payload, &advisory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refund advisory: %w", err)
	}
	return &advisory, nil
}
