package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	"github.com/vladislavdragonenkov/hms/internal/messaging/kafka"
)

// emitTransition пишет события смены статуса и предупреждения.
func (s *Service) emitTransition(ctx context.Context, out Outcome, reason string) {
	a := out.Admission
	tr := out.Transition

	if tr.Changed() {
		s.metrics.RecordTransition(string(tr.From), string(tr.To))
		s.logger.WithFields(log.Fields{
			"admission_id": a.ID,
			"from":         tr.From,
			"to":           tr.To,
		}).Info("admission status changed")
		s.emitEvent(ctx, a, domain.EventAdmissionStatusChanged, reason, map[string]any{
			"from":   tr.From,
			"status": tr.To,
		})
	}

	if tr.Canceled {
		s.metrics.RecordCanceled()
		s.emitEvent(ctx, a, domain.EventAdmissionCanceled, reason, map[string]any{
			"paid_amount": a.PaidAmount.StringFixed(domain.MoneyPlaces),
			"due_amount":  a.Totals.DueAmount.StringFixed(domain.MoneyPlaces),
		})
	}

	if tr.Restored {
		s.metrics.RecordRestored()
		s.emitEvent(ctx, a, domain.EventAdmissionRestored, reason, map[string]any{
			"status":        a.Status,
			"admission_fee": a.Charges.AdmissionFee.StringFixed(domain.MoneyPlaces),
		})
	}

	if tr.Discharged && a.DateDischarged != nil {
		s.emitEvent(ctx, a, domain.EventAdmissionDischarged, reason, map[string]any{
			"date_discharged": a.DateDischarged.UTC().Format(time.RFC3339Nano),
		})
	}

	for _, adv := range tr.Advisories {
		if adv.Code != engine.AdvisoryManualRefund {
			continue
		}
		s.metrics.RecordRefundAdvisory()
		s.logger.WithFields(log.Fields{
			"admission_id": a.ID,
			"amount":       adv.Amount.StringFixed(domain.MoneyPlaces),
		}).Warn("manual refund required")
		s.emitPayload(ctx, a, domain.EventManualRefundRequired, adv.Message, kafka.RefundAdvisory{
			AdmissionID:     a.ID,
			AdmissionNumber: a.AdmissionNumber,
			PatientID:       a.Patient.ID,
			Amount:          adv.Amount.StringFixed(domain.MoneyPlaces),
			Message:         adv.Message,
		})
	}
}

// emitEvent дополняет payload идентификатором, причиной и временем и пишет событие.
func (s *Service) emitEvent(ctx context.Context, a domain.Admission, eventType, reason string, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["admission_id"] = a.ID
	payload["ts"] = s.now().Format(time.RFC3339Nano)
	if reason != "" {
		payload["reason"] = reason
	}
	s.emitPayload(ctx, a, eventType, reason, payload)
}

// emitPayload кладёт событие в outbox и журнал. Ошибки только логируются: мутация уже сохранена.
func (s *Service) emitPayload(ctx context.Context, a domain.Admission, eventType, reason string, payload any) {
	entry := s.logger.WithFields(log.Fields{
		"admission_id": a.ID,
		"event":        eventType,
	})

	if s.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
			ID:            uuid.NewString(),
			AggregateType: domain.AggregateAdmission,
			AggregateID:   a.ID,
			EventType:     eventType,
			Payload:       data,
			CreatedAt:     s.now(),
		}); err != nil {
			entry.WithError(err).Error("enqueue event failed")
		} else {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		err := s.timeline.Append(ctx, domain.TimelineEvent{
			AdmissionID: a.ID,
			Type:        eventType,
			Reason:      reason,
			Occurred:    s.now(),
		})
		if err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}
}
