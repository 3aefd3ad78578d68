// Package httpapi публикует операции над госпитализациями по HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/service/admission"
)

const (
	maxBodyBytes          = 1 << 20
	defaultIdempotencyTTL = 24 * time.Hour
	maxListLimit          = 500
)

// AdmissionService операции, которые нужны HTTP-слою.
type AdmissionService interface {
	Create(ctx context.Context, in admission.CreateInput) (admission.Outcome, error)
	Get(ctx context.Context, id string) (domain.Admission, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Admission, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	Update(ctx context.Context, id string, in admission.UpdateInput) (admission.Outcome, error)
	ChangeStatus(ctx context.Context, id string, next domain.AdmissionStatus, reason string) (admission.Outcome, error)
	Cancel(ctx context.Context, id, reason string) (admission.Outcome, error)
	Quote(in admission.QuoteInput) (domain.Totals, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithCurrency добавляет код валюты в ответы.
func WithCurrency(currency string) Option {
	return func(h *Handler) { h.currency = currency }
}

// WithClock подменяет источник времени для TTL ключей идемпотентности.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler REST API госпитализаций.
type Handler struct {
	svc      AdmissionService
	idem     domain.IdempotencyRepository
	idemTTL  time.Duration
	currency string
	logger   *log.Entry
	now      func() time.Time
	router   *mux.Router
}

// NewHandler собирает роутер API.
func NewHandler(svc AdmissionService, opts ...Option) *Handler {
	h := &Handler{
		svc:     svc,
		idemTTL: defaultIdempotencyTTL,
		logger:  log.WithField("component", "http-api"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/statuses", h.listStatuses).Methods(http.MethodGet)
	api.HandleFunc("/admissions/quote", h.quote).Methods(http.MethodPost)
	api.HandleFunc("/admissions", h.withIdempotency(h.create, true)).Methods(http.MethodPost)
	api.HandleFunc("/admissions", h.list).Methods(http.MethodGet)
	api.HandleFunc("/admissions/{id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/admissions/{id}", h.withIdempotency(h.update, false)).Methods(http.MethodPatch)
	api.HandleFunc("/admissions/{id}/status", h.withIdempotency(h.changeStatus, false)).Methods(http.MethodPut)
	api.HandleFunc("/admissions/{id}/cancel", h.withIdempotency(h.cancel, false)).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	return router
}

// decode читает JSON с UseNumber, чтобы суммы не проходили через float64.
// Пустое тело допустимо, если allowEmpty.
func decode(r *http.Request, dst any, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return badRequest("failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return badRequest("request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return badRequest("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admissions/"+out.Admission.ID)
	writeJSON(w, http.StatusCreated, mutationFromOutcome(out, h.currency))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ListFilter{PatientID: strings.TrimSpace(query.Get("patient_id"))}

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseAdmissionStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	admissions, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := listResponse{Admissions: make([]admissionDTO, 0, len(admissions))}
	for _, a := range admissions {
		resp.Admissions = append(resp.Admissions, admissionFromDomain(a, h.currency))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.svc.Timeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admissionResponse{
		Admission: admissionFromDomain(a, h.currency),
		Timeline:  timelineFromDomain(events),
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationFromOutcome(out, h.currency))
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := parseSelectableStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.ChangeStatus(r.Context(), mux.Vars(r)["id"], status, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationFromOutcome(out, h.currency))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.svc.Cancel(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationFromOutcome(out, h.currency))
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	totals, err := h.svc.Quote(in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsFromDomain(totals))
}

func (h *Handler) listStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"statuses": domain.SelectableStatuses()})
}
