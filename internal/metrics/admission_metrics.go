package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AdmissionMetrics содержит метрики жизненного цикла госпитализаций.
type AdmissionMetrics struct {
	created           prometheus.Counter
	transitions       *prometheus.CounterVec
	canceled          prometheus.Counter
	restored          prometheus.Counter
	refundAdvisories  prometheus.Counter
	validationFailure *prometheus.CounterVec
	saveConflicts     prometheus.Counter
	saveRetries       prometheus.Counter

	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewAdmissionMetrics регистрирует метрики в DefaultRegisterer.
func NewAdmissionMetrics() *AdmissionMetrics {
	return NewAdmissionMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewAdmissionMetricsWithRegisterer регистрирует метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewAdmissionMetricsWithRegisterer(registerer prometheus.Registerer) *AdmissionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &AdmissionMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_admissions_created_total",
			Help: "Total number of admissions created",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hms_admission_status_transitions_total",
			Help: "Total number of admission status transitions",
		}, []string{"from", "to"}),
		canceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_admissions_canceled_total",
			Help: "Total number of admissions canceled",
		}),
		restored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_admissions_restored_total",
			Help: "Total number of canceled admissions restored to an active status",
		}),
		refundAdvisories: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_manual_refund_advisories_total",
			Help: "Total number of manual refund advisories raised on cancellation",
		}),
		validationFailure: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "hms_admission_validation_failures_total",
			Help: "Total number of rejected submissions by validation gate",
		}, []string{"gate"}),
		saveConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_admission_save_conflicts_total",
			Help: "Total number of optimistic locking conflicts on save",
		}),
		saveRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_admission_save_retries_total",
			Help: "Total number of save retries after a version conflict",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "hms_admission_operation_duration_seconds",
			Help:    "Duration of admission service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "hms_outbox_events_total",
			Help: "Total number of events enqueued to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "hms_admission_operations_in_flight",
			Help: "Number of admission operations currently executing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordCreated учитывает новую госпитализацию.
func (m *AdmissionMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// RecordTransition учитывает смену статуса.
func (m *AdmissionMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordCanceled учитывает отмену.
func (m *AdmissionMetrics) RecordCanceled() {
	if m == nil {
		return
	}
	m.canceled.Inc()
}

// RecordRestored учитывает выход из canceled.
func (m *AdmissionMetrics) RecordRestored() {
	if m == nil {
		return
	}
	m.restored.Inc()
}

// RecordRefundAdvisory учитывает предупреждение о ручном возврате.
func (m *AdmissionMetrics) RecordRefundAdvisory() {
	if m == nil {
		return
	}
	m.refundAdvisories.Inc()
}

// RecordValidationFailure учитывает отклонённую отправку на gate.
func (m *AdmissionMetrics) RecordValidationFailure(gate string) {
	if m == nil {
		return
	}
	m.validationFailure.WithLabelValues(gate).Inc()
}

// RecordSaveConflict учитывает конфликт версий.
func (m *AdmissionMetrics) RecordSaveConflict() {
	if m == nil {
		return
	}
	m.saveConflicts.Inc()
}

// RecordSaveRetry учитывает повтор сохранения.
func (m *AdmissionMetrics) RecordSaveRetry() {
	if m == nil {
		return
	}
	m.saveRetries.Inc()
}

// ObserveOperation открывает in-flight и возвращает функцию, которая фиксирует длительность.
func (m *AdmissionMetrics) ObserveOperation(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordTimelineEvent учитывает запись в timeline.
func (m *AdmissionMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent учитывает постановку события в outbox.
func (m *AdmissionMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
