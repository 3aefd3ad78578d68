package domain

import (
	"errors"
	"strings"
)

var (
	// ErrAdmissionNotFound возвращается, если госпитализация не найдена в репозитории.
	ErrAdmissionNotFound = errors.New("admission not found")
	// ErrAdmissionExists запись с таким ID или номером уже существует.
	ErrAdmissionExists = errors.New("admission already exists")
	// ErrAdmissionVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrAdmissionVersionConflict = errors.New("admission version conflict")
	// ErrAdmissionIDRequired пустой идентификатор госпитализации.
	ErrAdmissionIDRequired = errors.New("admission id is required")
	// ErrUnknownChargeField обращение к несуществующей статье начислений.
	ErrUnknownChargeField = errors.New("unknown charge field")
	// ErrInvalidStatus статус не входит в жизненный цикл госпитализации.
	ErrInvalidStatus = errors.New("invalid admission status")
	// ErrInvalidDiscountType неизвестный тип скидки.
	ErrInvalidDiscountType = errors.New("invalid discount type")
	// ErrChargeNegative статья начислений меньше нуля.
	ErrChargeNegative = errors.New("charge must be non-negative")
	// ErrPaidAmountNegative оплаченная сумма меньше нуля.
	ErrPaidAmountNegative = errors.New("paid amount must be non-negative")
	// ErrDiscountOutOfRange скидка вне диапазона [0, total].
	ErrDiscountOutOfRange = errors.New("discount amount out of range")
	// ErrTotalsMismatch сохранённые итоги не совпадают с пересчитанными.
	ErrTotalsMismatch = errors.New("admission totals do not match charges")
	// ErrDischargeDateMissing статус discharged без даты выписки.
	ErrDischargeDateMissing = errors.New("discharged admission must have discharge date")

	// ErrIdempotencyKeyRequired пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists ключ уже использован для того же запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch ключ переиспользован для другого тела запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound ключ не найден или истёк.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrAdmissionVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Gate называет проверку, которая отклонила сохранение.
type Gate string

const (
	GateCreate Gate = "create"
	GateEdit   Gate = "edit"
)

// ValidationError возвращается, когда проверка перед сохранением не пройдена.
// Сообщения идут в том порядке, в котором их выдал валидатор.
type ValidationError struct {
	Gate     Gate
	Messages []string
}

func (e *ValidationError) Error() string {
	return "admission " + string(e.Gate) + " validation failed: " + strings.Join(e.Messages, "; ")
}

// AsValidationError извлекает ValidationError из цепочки ошибок.
func AsValidationError(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
