package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
)

// responseRecorder дублирует ответ, чтобы сохранить его под ключом идемпотентности.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// withIdempotency выполняет next не больше одного раза на Idempotency-Key.
// Повтор с тем же телом получает сохранённый ответ, с другим телом 422, во время обработки 409.
func (h *Handler) withIdempotency(next http.HandlerFunc, required bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.idem == nil {
			next(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" {
			if required {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Idempotency-Key header is required"})
				return
			}
			next(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		entry := h.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"method":          r.Method,
			"path":            r.URL.Path,
		})

		record, err := h.idem.CreateProcessing(r.Context(), key, requestHash(r.Method, r.URL.Path, body), h.now().Add(h.idemTTL))
		if err != nil {
			h.replay(w, entry, err, record)
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= 200 && status < 300 {
			err = h.idem.MarkDone(r.Context(), key, rec.body.Bytes(), status)
		} else {
			err = h.idem.MarkFailed(r.Context(), key, rec.body.Bytes(), status)
		}
		if err != nil {
			entry.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func (h *Handler) replay(w http.ResponseWriter, entry *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "idempotency key is already used with a different request"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
			return
		}
		if !record.Replayable() || record.HTTPStatus == 0 {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "idempotency cache is empty"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(idempotencyReplayHeader, "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
	default:
		entry.WithError(createErr).Warn("failed to create idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

// requestHash SHA-256 от метода, пути и тела запроса.
func requestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
