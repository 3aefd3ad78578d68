package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	"github.com/vladislavdragonenkov/hms/internal/metrics"
	"github.com/vladislavdragonenkov/hms/internal/service/admission"
	"github.com/vladislavdragonenkov/hms/internal/storage/memory"
	"github.com/vladislavdragonenkov/hms/internal/validation"
)

const createBody = `{
	"patient": {"id": "pat-1", "first_name": "Anna", "last_name": "Petrova", "gender": "female",
		"phone": "+14155552671", "date_of_birth": "1988-05-02"},
	"hospital_id": "hosp-1",
	"hospital_name": "City Hospital",
	"department_id": "dep-cardio",
	"doctor_id": "doc-7",
	"charges": {"service_charge": 500}
}`

type apiFixture struct {
	handler *Handler
	idem    domain.IdempotencyRepository
}

func newAPI(t *testing.T, withIdem bool) apiFixture {
	t.Helper()

	svc := admission.New(
		memory.NewAdmissionRepository(),
		engine.New(nil),
		validation.New(nil),
		admission.WithTimeline(memory.NewTimelineRepository()),
		admission.WithOutbox(memory.NewOutboxRepository()),
		admission.WithMetrics(metrics.NewAdmissionMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	opts := []Option{WithCurrency("USD"), WithLogger(log.WithField("component", "http-api-test"))}
	var idem domain.IdempotencyRepository
	if withIdem {
		idem = memory.NewIdempotencyRepository()
		opts = append(opts, WithIdempotency(idem, time.Hour))
	}
	return apiFixture{handler: NewHandler(svc, opts...), idem: idem}
}

func (f apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f apiFixture) create(t *testing.T) admissionDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/admissions", createBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[mutationResponse](t, rec).Admission
}

func TestHandler_CreateAndGet(t *testing.T) {
	f := newAPI(t, false)

	created := f.create(t)
	assert.Equal(t, domain.AdmissionStatusAdmitted, created.Status)
	assert.Equal(t, "300.00", created.Charges["admission_fee"])
	assert.Equal(t, "500.00", created.Charges["service_charge"])
	assert.Equal(t, "800.00", created.Totals.GrandTotal)
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, "1988-05-02", created.Patient.DateOfBirth)

	rec := f.do(t, http.MethodGet, "/api/v1/admissions/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[admissionResponse](t, rec)
	assert.Equal(t, created.AdmissionNumber, resp.Admission.AdmissionNumber)
	require.Len(t, resp.Timeline, 1)
	assert.Equal(t, domain.EventAdmissionCreated, resp.Timeline[0].Type)
}

func TestHandler_CreateValidationFailure(t *testing.T) {
	f := newAPI(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/admissions", `{"patient": {"first_name": "Anna"}}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, []string{
		validation.MsgHospitalRequired,
		validation.MsgPatientGenderRequired,
		validation.MsgPatientPhoneRequired,
		validation.MsgPatientDOBRequired,
		validation.MsgDepartmentRequired,
		validation.MsgDoctorRequired,
	}, resp.Messages)
}

func TestHandler_BadInput(t *testing.T) {
	f := newAPI(t, false)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "malformed json", method: http.MethodPost, path: "/api/v1/admissions", body: `{`, want: http.StatusBadRequest},
		{name: "bad date of birth", method: http.MethodPost, path: "/api/v1/admissions", body: `{"patient": {"date_of_birth": "02.05.1988"}}`, want: http.StatusBadRequest},
		{name: "unknown discount type", method: http.MethodPost, path: "/api/v1/admissions/quote", body: `{"discount_type": "coupon"}`, want: http.StatusBadRequest},
		{name: "unknown status filter", method: http.MethodGet, path: "/api/v1/admissions?status=archived", want: http.StatusBadRequest},
		{name: "negative limit", method: http.MethodGet, path: "/api/v1/admissions?limit=-1", want: http.StatusBadRequest},
		{name: "missing admission", method: http.MethodGet, path: "/api/v1/admissions/missing", want: http.StatusNotFound},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/unknown", want: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_UpdateAndSeatRentGate(t *testing.T) {
	f := newAPI(t, false)
	created := f.create(t)
	path := "/api/v1/admissions/" + created.ID

	rec := f.do(t, http.MethodPatch, path, `{"charges": {"seat_rent": "200"}}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{validation.MsgSeatRequiredForRent}, decodeBody[errorResponse](t, rec).Messages)

	rec = f.do(t, http.MethodPatch, path, `{"seat_number": "B-12", "charges": {"seat_rent": "200"}, "discount_type": "percentage", "discount_value": 10, "paid_amount": 500}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[mutationResponse](t, rec).Admission
	assert.Equal(t, "1000.00", updated.Totals.TotalAmount)
	assert.Equal(t, "100.00", updated.Totals.DiscountAmount)
	assert.Equal(t, "900.00", updated.Totals.GrandTotal)
	assert.Equal(t, "400.00", updated.Totals.DueAmount)
	require.NotNil(t, updated.Discount.Value)
	assert.Equal(t, "10", *updated.Discount.Value)

	rec = f.do(t, http.MethodPatch, path, `{"charges": {"parking_fee": 1}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_DiscountValueNullClears(t *testing.T) {
	f := newAPI(t, false)
	created := f.create(t)
	path := "/api/v1/admissions/" + created.ID

	rec := f.do(t, http.MethodPatch, path, `{"discount_type": "percentage", "discount_value": "10.00049"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[mutationResponse](t, rec).Admission
	require.NotNil(t, updated.Discount.Value)
	assert.Equal(t, "10.0005", *updated.Discount.Value)
	assert.Equal(t, "80.00", updated.Totals.DiscountAmount)

	rec = f.do(t, http.MethodPatch, path, `{"seat_number": "B-14"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, decodeBody[mutationResponse](t, rec).Admission.Discount.Value, "absent field keeps the value")

	rec = f.do(t, http.MethodPatch, path, `{"discount_value": null}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cleared := decodeBody[mutationResponse](t, rec).Admission
	assert.Nil(t, cleared.Discount.Value)
	assert.Equal(t, domain.DiscountPercentage, cleared.Discount.Type)
	assert.Equal(t, "0.00", cleared.Totals.DiscountAmount)
	assert.Equal(t, "800.00", cleared.Totals.GrandTotal)
}

func TestHandler_HugeAmountsCoerceToZero(t *testing.T) {
	f := newAPI(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/admissions/quote", `{"charges": {"service_charge": 1e100000000, "medicine_charge": "1e100000000"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	totals := decodeBody[totalsDTO](t, rec)
	assert.Equal(t, "300.00", totals.TotalAmount)
}

func TestHandler_StatusAndCancel(t *testing.T) {
	f := newAPI(t, false)
	created := f.create(t)
	path := "/api/v1/admissions/" + created.ID

	rec := f.do(t, http.MethodPut, path+"/status", `{"status": "canceled"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cancel goes through its own action")

	rec = f.do(t, http.MethodPatch, path, `{"paid_amount": "500"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, path+"/cancel", `{"reason": "duplicate"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	canceled := decodeBody[mutationResponse](t, rec)
	assert.Equal(t, domain.AdmissionStatusCanceled, canceled.Admission.Status)
	assert.Equal(t, "-500.00", canceled.Admission.Totals.DueAmount)
	require.Len(t, canceled.Advisories, 1)
	assert.Equal(t, engine.AdvisoryManualRefund, canceled.Advisories[0].Code)
	assert.Equal(t, "500.00", canceled.Advisories[0].Amount)

	rec = f.do(t, http.MethodPut, path+"/status", `{"status": "discharged", "reason": "recovered"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decodeBody[mutationResponse](t, rec).Admission
	assert.Equal(t, domain.AdmissionStatusDischarged, restored.Status)
	assert.Equal(t, "300.00", restored.Totals.GrandTotal)
	assert.NotNil(t, restored.DateDischarged)

	rec = f.do(t, http.MethodGet, "/api/v1/admissions?status=discharged&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[listResponse](t, rec).Admissions, 1)
}

func TestHandler_QuoteAndStatuses(t *testing.T) {
	f := newAPI(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/admissions/quote", `{"charges": {"service_charge": 500}, "discount_type": "fixed", "discount_value": 1000}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decodeBody[totalsDTO](t, rec)
	assert.Equal(t, "800.00", totals.DiscountAmount)
	assert.Equal(t, "0.00", totals.GrandTotal)

	rec = f.do(t, http.MethodGet, "/api/v1/statuses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := decodeBody[map[string][]string](t, rec)
	assert.Equal(t, []string{"admitted", "under_treatment", "awaiting_discharge", "discharged"}, statuses["statuses"])
}

func TestHandler_IdempotentCreate(t *testing.T) {
	f := newAPI(t, true)

	rec := f.do(t, http.MethodPost, "/api/v1/admissions", createBody, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "key is required on create")

	key := map[string]string{idempotencyKeyHeader: "create-1"}
	first := f.do(t, http.MethodPost, "/api/v1/admissions", createBody, key)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/admissions", createBody, key)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/admissions", "", nil)
	assert.Len(t, decodeBody[listResponse](t, rec).Admissions, 1)

	mismatch := f.do(t, http.MethodPost, "/api/v1/admissions", `{"hospital_name": "Other"}`, key)
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
}

func TestHandler_IdempotencyProcessingAndFailureReplay(t *testing.T) {
	f := newAPI(t, true)
	ctx := context.Background()

	hash := requestHash(http.MethodPost, "/api/v1/admissions", []byte(createBody))
	_, err := f.idem.CreateProcessing(ctx, "in-flight", hash, time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/admissions", createBody, map[string]string{idempotencyKeyHeader: "in-flight"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	badKey := map[string]string{idempotencyKeyHeader: "invalid-1"}
	first := f.do(t, http.MethodPost, "/api/v1/admissions", `{"patient": {}}`, badKey)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)

	record, err := f.idem.Get(ctx, "invalid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	second := f.do(t, http.MethodPost, "/api/v1/admissions", `{"patient": {}}`, badKey)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayHeader))
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: domain.ErrAdmissionNotFound, want: http.StatusNotFound},
		{err: domain.ErrAdmissionVersionConflict, want: http.StatusConflict},
		{err: &domain.ValidationError{Gate: domain.GateEdit}, want: http.StatusUnprocessableEntity},
		{err: domain.ErrUnknownChargeField, want: http.StatusBadRequest},
		{err: badRequest("nope"), want: http.StatusBadRequest},
		{err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFromError(tc.err), tc.err.Error())
	}
}
