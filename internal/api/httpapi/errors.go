package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

// requestError ошибка разбора запроса, отдаётся клиенту как 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

// statusFromError сопоставляет доменные ошибки с HTTP-кодами.
func statusFromError(err error) int {
	var reqErr *requestError
	if _, ok := domain.AsValidationError(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAdmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAdmissionVersionConflict), errors.Is(err, domain.ErrAdmissionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownChargeField),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidDiscountType),
		errors.Is(err, domain.ErrAdmissionIDRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFromError(err)
	resp := errorResponse{Error: err.Error()}

	if vErr, ok := domain.AsValidationError(err); ok {
		resp.Error = "validation failed"
		resp.Messages = vErr.Messages
	}
	if code == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		resp.Error = "internal error"
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
