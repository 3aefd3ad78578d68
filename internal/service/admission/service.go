// Package admission связывает движок счёта, проверки и хранилища в операции над госпитализациями.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	"github.com/vladislavdragonenkov/hms/internal/metrics"
	"github.com/vladislavdragonenkov/hms/internal/validation"
)

// Validator проверки перед сохранением.
type Validator interface {
	ValidateCreate(a domain.Admission) validation.Result
	ValidateEdit(a domain.Admission) validation.Result
}

// RetryConfig задаёт повторы сохранения при конфликте версий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// errUnchanged мутация ничего не меняет, сохранять нечего.
var errUnchanged = errors.New("admission unchanged")

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeline подключает журнал событий.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = timeline }
}

// WithOutbox подключает transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithMetrics подключает метрики. Без них сервис работает молча.
func WithMetrics(m *metrics.AdmissionMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetry переопределяет повторы сохранения.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) {
		if cfg.MaxAttempts > 0 {
			s.retry = cfg
		}
	}
}

// WithClock подменяет источник времени для UpdatedAt и событий.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service выполняет операции над госпитализациями.
type Service struct {
	repo      domain.AdmissionRepository
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	engine    *engine.Engine
	validator Validator
	metrics   *metrics.AdmissionMetrics
	logger    *log.Entry
	retry     RetryConfig
	now       func() time.Time
}

// New создаёт сервис. Журнал, outbox и метрики подключаются опциями.
func New(repo domain.AdmissionRepository, eng *engine.Engine, validator Validator, opts ...Option) *Service {
	if eng == nil {
		eng = engine.New(nil)
	}
	if validator == nil {
		validator = validation.New(nil)
	}
	s := &Service{
		repo:      repo,
		engine:    eng,
		validator: validator,
		logger:    log.WithField("component", "admission-service"),
		retry:     DefaultRetryConfig(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create оформляет госпитализацию, проверяет её и сохраняет.
func (s *Service) Create(ctx context.Context, in CreateInput) (Outcome, error) {
	defer s.metrics.ObserveOperation("create")()

	a := s.engine.NewAdmission(in.intake())
	if err := applyBilling(s.engine, &a, in.Billing); err != nil {
		return Outcome{}, err
	}

	if res := s.validator.ValidateCreate(a); !res.Valid {
		return Outcome{}, s.rejected(domain.GateCreate, res)
	}
	if err := s.checkEdit(a); err != nil {
		return Outcome{}, err
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return Outcome{}, fmt.Errorf("create admission: %w", err)
	}

	s.metrics.RecordCreated()
	s.logger.WithFields(log.Fields{
		"admission_id":     a.ID,
		"admission_number": a.AdmissionNumber,
	}).Info("admission created")

	s.emitEvent(ctx, a, domain.EventAdmissionCreated, "", map[string]any{
		"admission_number": a.AdmissionNumber,
		"patient_id":       a.Patient.ID,
		"status":           a.Status,
		"grand_total":      a.Totals.GrandTotal.StringFixed(domain.MoneyPlaces),
	})

	return Outcome{Admission: a}, nil
}

// Get возвращает госпитализацию.
func (s *Service) Get(ctx context.Context, id string) (domain.Admission, error) {
	if id == "" {
		return domain.Admission{}, domain.ErrAdmissionIDRequired
	}
	return s.repo.Get(ctx, id)
}

// List возвращает госпитализации по фильтру.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Admission, error) {
	return s.repo.List(ctx, filter)
}

// Timeline возвращает журнал событий госпитализации.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(ctx, id)
}

// Update применяет правку счёта, номера места и, если задан, статуса.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Outcome, error) {
	defer s.metrics.ObserveOperation("update")()

	if in.Status != nil && !in.Status.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, *in.Status)
	}

	out, err := s.mutate(ctx, id, func(a *domain.Admission) (engine.Transition, error) {
		if err := applyBilling(s.engine, a, in.Billing); err != nil {
			return engine.Transition{}, err
		}
		if in.SeatNumber != nil {
			a.SeatNumber = *in.SeatNumber
		}
		if in.Status == nil {
			return engine.Transition{From: a.Status, To: a.Status}, nil
		}
		return s.engine.RequestStatus(a, *in.Status)
	})
	if err != nil {
		return Outcome{}, err
	}

	if !in.Billing.empty() || in.SeatNumber != nil {
		s.emitEvent(ctx, out.Admission, domain.EventAdmissionUpdated, in.Reason, map[string]any{
			"grand_total": out.Admission.Totals.GrandTotal.StringFixed(domain.MoneyPlaces),
			"due_amount":  out.Admission.Totals.DueAmount.StringFixed(domain.MoneyPlaces),
		})
	}
	s.emitTransition(ctx, out, in.Reason)
	return out, nil
}

// ChangeStatus переводит госпитализацию в статус next.
// Повторный запрос того же статуса ничего не сохраняет; повторная отмена выполняется заново.
func (s *Service) ChangeStatus(ctx context.Context, id string, next domain.AdmissionStatus, reason string) (Outcome, error) {
	defer s.metrics.ObserveOperation("change_status")()

	if !next.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, next)
	}

	out, err := s.mutate(ctx, id, func(a *domain.Admission) (engine.Transition, error) {
		if a.Status == next && next != domain.AdmissionStatusCanceled {
			return engine.Transition{}, errUnchanged
		}
		return s.engine.RequestStatus(a, next)
	})
	if err != nil {
		return Outcome{}, err
	}

	s.emitTransition(ctx, out, reason)
	return out, nil
}

// Cancel отменяет госпитализацию. При наличии оплаты возвращает предупреждение о ручном возврате.
// Повторная отмена выполняется заново: начисления снова обнуляются.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Outcome, error) {
	defer s.metrics.ObserveOperation("cancel")()

	out, err := s.mutate(ctx, id, func(a *domain.Admission) (engine.Transition, error) {
		return s.engine.Cancel(a), nil
	})
	if err != nil {
		return Outcome{}, err
	}

	s.emitTransition(ctx, out, reason)
	return out, nil
}

// Quote считает итоги черновика с текущим сбором за поступление.
func (s *Service) Quote(in QuoteInput) (domain.Totals, error) {
	charges := domain.NewChargeSet(s.engine.DefaultAdmissionFee())
	for field, raw := range in.Charges {
		if err := charges.Set(field, raw); err != nil {
			return domain.Totals{}, err
		}
	}

	discountType := in.DiscountType
	if discountType == "" {
		discountType = domain.DiscountNone
	}
	if !discountType.Valid() {
		return domain.Totals{}, fmt.Errorf("%w: %q", domain.ErrInvalidDiscountType, discountType)
	}
	discount := domain.NoDiscount().SwitchType(discountType).WithValue(in.DiscountValue)

	return s.engine.Quote(charges, discount, in.PaidAmount), nil
}

// mutate загружает госпитализацию, применяет apply, проверяет и сохраняет.
// При конфликте версий перечитывает свежую версию и применяет apply заново.
func (s *Service) mutate(ctx context.Context, id string, apply func(*domain.Admission) (engine.Transition, error)) (Outcome, error) {
	if id == "" {
		return Outcome{}, domain.ErrAdmissionIDRequired
	}

	delay := s.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return Outcome{}, err
		}

		working := current
		tr, err := apply(&working)
		if errors.Is(err, errUnchanged) {
			return Outcome{Admission: current, Transition: engine.Transition{From: current.Status, To: current.Status}}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		if err := s.checkEdit(working); err != nil {
			return Outcome{}, err
		}
		if errs := working.ValidateInvariants(); len(errs) > 0 {
			return Outcome{}, fmt.Errorf("admission %s invariants: %w", id, errors.Join(errs...))
		}

		working.UpdatedAt = s.now()
		err = s.repo.Save(ctx, working)
		if err == nil {
			working.Version = current.Version + 1
			return Outcome{Admission: working, Transition: tr, Advisories: tr.Advisories}, nil
		}
		if !domain.IsVersionConflict(err) {
			return Outcome{}, fmt.Errorf("save admission %s: %w", id, err)
		}

		lastErr = err
		s.metrics.RecordSaveConflict()
		if attempt == s.retry.MaxAttempts {
			break
		}

		s.metrics.RecordSaveRetry()
		s.logger.WithFields(log.Fields{
			"admission_id": id,
			"attempt":      attempt,
			"version":      current.Version,
		}).Warn("version conflict detected, retrying")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			case <-time.After(delay):
			}
			delay = s.nextDelay(delay)
		}
	}

	s.logger.WithError(lastErr).WithField("admission_id", id).Error("failed to persist admission")
	return Outcome{}, fmt.Errorf("save admission %s after %d attempts: %w", id, s.retry.MaxAttempts, lastErr)
}

func (s *Service) nextDelay(delay time.Duration) time.Duration {
	factor := s.retry.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(delay) * factor)
	if s.retry.MaxDelay > 0 && next > s.retry.MaxDelay {
		return s.retry.MaxDelay
	}
	return next
}

func (s *Service) checkEdit(a domain.Admission) error {
	if res := s.validator.ValidateEdit(a); !res.Valid {
		return s.rejected(domain.GateEdit, res)
	}
	return nil
}

func (s *Service) rejected(gate domain.Gate, res validation.Result) error {
	s.metrics.RecordValidationFailure(string(gate))
	s.logger.WithFields(log.Fields{
		"gate":     gate,
		"messages": res.Messages,
	}).Debug("admission rejected by validation")
	return &domain.ValidationError{Gate: gate, Messages: res.Messages}
}
