package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/hms/internal/api/httpapi"
	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	"github.com/vladislavdragonenkov/hms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/hms/internal/metrics"
	"github.com/vladislavdragonenkov/hms/internal/pricing"
	"github.com/vladislavdragonenkov/hms/internal/service/admission"
	"github.com/vladislavdragonenkov/hms/internal/service/outbox"
	"github.com/vladislavdragonenkov/hms/internal/storage/memory"
	"github.com/vladislavdragonenkov/hms/internal/validation"
)

type totals struct {
	TotalAmount    string `json:"total_amount"`
	DiscountAmount string `json:"discount_amount"`
	GrandTotal     string `json:"grand_total"`
	DueAmount      string `json:"due_amount"`
}

type admissionView struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Charges    map[string]string `json:"charges"`
	PaidAmount string            `json:"paid_amount"`
	Totals     totals            `json:"totals"`
	Version    int64             `json:"version"`
}

type mutationView struct {
	Admission  admissionView `json:"admission"`
	Advisories []struct {
		Code   string `json:"code"`
		Amount string `json:"amount"`
	} `json:"advisories"`
}

// AdmissionLifecycleTestSuite прогоняет госпитализацию через HTTP API, сервис и outbox.
type AdmissionLifecycleTestSuite struct {
	suite.Suite
	server *httptest.Server
	outbox *memory.OutboxRepository
	seq    int
}

func (s *AdmissionLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	prices, err := pricing.ParseStatic("300")
	s.Require().NoError(err)

	s.outbox = memory.NewOutboxRepository()
	svc := admission.New(
		memory.NewAdmissionRepository(),
		engine.New(prices),
		validation.New(validation.NewFormats("BD")),
		admission.WithLogger(logger),
		admission.WithTimeline(memory.NewTimelineRepository()),
		admission.WithOutbox(s.outbox),
		admission.WithMetrics(metrics.NewAdmissionMetricsWithRegisterer(prometheus.NewRegistry())),
	)
	handler := httpapi.NewHandler(svc,
		httpapi.WithLogger(logger),
		httpapi.WithIdempotency(memory.NewIdempotencyRepository(), time.Hour),
		httpapi.WithCurrency("BDT"),
	)
	s.server = httptest.NewServer(handler)
}

func (s *AdmissionLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *AdmissionLifecycleTestSuite) call(method, path string, body any, wantStatus int) []byte {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost && path == "/api/v1/admissions" {
		s.seq++
		req.Header.Set("Idempotency-Key", fmt.Sprintf("lifecycle-%d", s.seq))
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	s.Require().NoError(err)
	s.Require().Equal(wantStatus, resp.StatusCode, buf.String())
	return buf.Bytes()
}

func (s *AdmissionLifecycleTestSuite) mutation(method, path string, body any) mutationView {
	var out mutationView
	s.Require().NoError(json.Unmarshal(s.call(method, path, body, http.StatusOK), &out))
	return out
}

func (s *AdmissionLifecycleTestSuite) createAdmission(charges map[string]any, paid string) admissionView {
	body := map[string]any{
		"patient": map[string]any{
			"id": "pat-100", "first_name": "Karim", "last_name": "Hossain", "gender": "male",
			"phone": "+14155552671", "date_of_birth": "1979-11-23",
		},
		"hospital_id":   "hosp-dhaka",
		"hospital_name": "Dhaka General",
		"department_id": "dep-ortho",
		"doctor_id":     "doc-12",
		"charges":       charges,
		"paid_amount":   paid,
	}
	var out mutationView
	s.Require().NoError(json.Unmarshal(s.call(http.MethodPost, "/api/v1/admissions", body, http.StatusCreated), &out))
	return out.Admission
}

func (s *AdmissionLifecycleTestSuite) TestBillingScenarios() {
	created := s.createAdmission(map[string]any{"service_charge": "500"}, "800")
	s.Equal("admitted", created.Status)
	s.Equal("300.00", created.Charges["admission_fee"])
	s.Equal(totals{TotalAmount: "800.00", DiscountAmount: "0.00", GrandTotal: "800.00", DueAmount: "0.00"}, created.Totals)

	path := "/api/v1/admissions/" + created.ID
	pct := s.mutation(http.MethodPatch, path, map[string]any{"discount_type": "percentage", "discount_value": "10"})
	s.Equal("80.00", pct.Admission.Totals.DiscountAmount)
	s.Equal("720.00", pct.Admission.Totals.GrandTotal)

	fixed := s.mutation(http.MethodPatch, path, map[string]any{"discount_type": "fixed", "discount_value": "1000"})
	s.Equal("800.00", fixed.Admission.Totals.DiscountAmount)
	s.Equal("0.00", fixed.Admission.Totals.GrandTotal)
}

func (s *AdmissionLifecycleTestSuite) TestCancelAndRestore() {
	created := s.createAdmission(map[string]any{"service_charge": "500"}, "500")
	path := "/api/v1/admissions/" + created.ID

	canceled := s.mutation(http.MethodPost, path+"/cancel", map[string]any{"reason": "patient transferred"})
	s.Equal("canceled", canceled.Admission.Status)
	s.Equal("0.00", canceled.Admission.Totals.TotalAmount)
	s.Equal("0.00", canceled.Admission.Totals.GrandTotal)
	s.Equal("-500.00", canceled.Admission.Totals.DueAmount)
	s.Require().Len(canceled.Advisories, 1)
	s.Equal("manual_refund_required", canceled.Advisories[0].Code)

	restored := s.mutation(http.MethodPut, path+"/status", map[string]any{"status": "under_treatment"})
	s.Equal("under_treatment", restored.Admission.Status)
	s.Equal("300.00", restored.Admission.Charges["admission_fee"])
	s.Equal("0.00", restored.Admission.Charges["service_charge"])
	s.Equal("300.00", restored.Admission.Totals.TotalAmount)
	s.Equal("300.00", restored.Admission.Totals.GrandTotal)
}

func (s *AdmissionLifecycleTestSuite) TestSeatRentGateRejectsWithoutPersisting() {
	created := s.createAdmission(nil, "0")
	path := "/api/v1/admissions/" + created.ID

	s.call(http.MethodPatch, path, map[string]any{"charges": map[string]any{"seat_rent": "200"}}, http.StatusUnprocessableEntity)

	var got struct {
		Admission admissionView `json:"admission"`
	}
	s.Require().NoError(json.Unmarshal(s.call(http.MethodGet, path, nil, http.StatusOK), &got))
	s.Equal("0.00", got.Admission.Charges["seat_rent"])
	s.Equal(created.Version, got.Admission.Version)
}

func (s *AdmissionLifecycleTestSuite) TestOutboxDeliversToKafka() {
	created := s.createAdmission(map[string]any{"service_charge": "500"}, "500")
	s.mutation(http.MethodPost, "/api/v1/admissions/"+created.ID+"/cancel", nil)

	stats, err := s.outbox.Stats(context.Background())
	s.Require().NoError(err)
	s.Require().Positive(stats.PendingCount)

	var (
		mu    sync.Mutex
		types []string
	)
	mockProducer := mocks.NewSyncProducer(s.T(), nil)
	for i := 0; i < stats.PendingCount; i++ {
		mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var env kafka.Envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return err
			}
			mu.Lock()
			types = append(types, env.EventType)
			mu.Unlock()
			return nil
		})
	}
	producer := kafka.NewProducerWithSync(mockProducer, nil)
	defer func() { s.NoError(producer.Close()) }()

	worker := outbox.NewWorker(s.outbox, kafka.NewOutboxPublisher(producer, kafka.TopicAdmissionEvents),
		outbox.WithRegisterer(prometheus.NewRegistry()),
		outbox.WithMaxAttempts(1),
	)
	s.Equal(stats.PendingCount, worker.ProcessOnce(context.Background()))

	after, err := s.outbox.Stats(context.Background())
	s.Require().NoError(err)
	s.Zero(after.PendingCount)
	s.Contains(types, domain.EventAdmissionCreated)
	s.Contains(types, domain.EventManualRefundRequired)
}

func TestAdmissionLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(AdmissionLifecycleTestSuite))
}
