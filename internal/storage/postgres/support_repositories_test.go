package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

func TestTimelineRepository_AppendAndList(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)
	ctx := context.Background()
	occurred := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO timeline_events").
		WithArgs("adm-1", domain.EventAdmissionCanceled, "operator request", occurred).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{
		AdmissionID: "adm-1",
		Type:        domain.EventAdmissionCanceled,
		Reason:      "operator request",
		Occurred:    occurred,
	}))

	mock.ExpectQuery(`FROM timeline_events WHERE admission_id = \$1`).
		WithArgs("adm-1").
		WillReturnRows(sqlmock.NewRows([]string{"admission_id", "type", "reason", "occurred"}).
			AddRow("adm-1", domain.EventAdmissionCreated, "", occurred).
			AddRow("adm-1", domain.EventAdmissionCanceled, "operator request", occurred.Add(time.Hour)))

	events, err := repo.List(ctx, "adm-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAdmissionCreated, events[0].Type)
	assert.Equal(t, "operator request", events[1].Reason)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimelineRepository_AppendRequiresAdmissionID(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)

	err := repo.Append(context.Background(), domain.TimelineEvent{Type: domain.EventAdmissionCreated})
	assert.ErrorIs(t, err, domain.ErrAdmissionIDRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_Flow(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()
	created := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs("msg-1", domain.AggregateAdmission, "adm-1", domain.EventAdmissionCreated, []byte(`{}`),
			"pending", created, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "msg-1",
		AggregateType: domain.AggregateAdmission,
		AggregateID:   "adm-1",
		EventType:     domain.EventAdmissionCreated,
		Payload:       []byte(`{}`),
		CreatedAt:     created,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)

	mock.ExpectQuery(`FROM outbox_messages WHERE status = \$1 ORDER BY created_at, id LIMIT \$2`).
		WithArgs("pending", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
			AddRow("msg-1", domain.AggregateAdmission, "adm-1", domain.EventAdmissionCreated, []byte(`{}`), created))

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created, pending[0].CreatedAt)

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\)`).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(1, created))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, created, stats.OldestPendingAt)

	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs("msg-1", "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkSent(ctx, "msg-1"))

	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs("missing", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	ctx := context.Background()
	ttl := time.Now().UTC().Add(time.Hour)
	recordColumns := []string{"key", "request_hash", "response_body", "http_status", "status", "ttl_at", "created_at", "updated_at"}

	t.Run("NewKey", func(t *testing.T) {
		store, mock := newMockStore(t)
		repo := NewIdempotencyRepository(store)

		mock.ExpectExec(`INSERT INTO idempotency_keys .+ ON CONFLICT \(key\) DO UPDATE`).
			WithArgs("key-1", "hash-1", "processing", ttl, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
		require.NoError(t, err)
		assert.Equal(t, domain.IdempotencyStatusProcessing, rec.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LiveKeyWithOtherHash", func(t *testing.T) {
		store, mock := newMockStore(t)
		repo := NewIdempotencyRepository(store)

		mock.ExpectExec("INSERT INTO idempotency_keys").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM idempotency_keys WHERE key = \$1 AND ttl_at > \$2`).
			WithArgs("key-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(recordColumns).
				AddRow("key-1", "hash-0", []byte(`{"id":"adm-1"}`), int64(201), "done", ttl, ttl, ttl))

		rec, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
		assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
		assert.Equal(t, 201, rec.HTTPStatus)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LiveKeySameHash", func(t *testing.T) {
		store, mock := newMockStore(t)
		repo := NewIdempotencyRepository(store)

		mock.ExpectExec("INSERT INTO idempotency_keys").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM idempotency_keys").
			WillReturnRows(sqlmock.NewRows(recordColumns).
				AddRow("key-1", "hash-1", nil, nil, "processing", ttl, ttl, ttl))

		rec, err := repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
		assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
		assert.Equal(t, domain.IdempotencyStatusProcessing, rec.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Validation", func(t *testing.T) {
		store, _ := newMockStore(t)
		repo := NewIdempotencyRepository(store)

		_, err := repo.CreateProcessing(ctx, " ", "hash", ttl)
		assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
		_, err = repo.CreateProcessing(ctx, "key", "", ttl)
		assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	})
}

func TestIdempotencyRepository_MarkAndDelete(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)
	ctx := context.Background()

	mock.ExpectExec("UPDATE idempotency_keys").
		WithArgs([]byte(`{}`), 201, "done", sqlmock.AnyArg(), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{}`), 201))

	mock.ExpectExec("UPDATE idempotency_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkFailed(ctx, "gone", nil, 500), domain.ErrIdempotencyKeyNotFound)

	before := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE key IN`).
		WithArgs(before, 50).
		WillReturnResult(sqlmock.NewResult(0, 3))
	deleted, err := repo.DeleteExpired(ctx, before, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE ttl_at <= \$1$`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 1))
	deleted, err = repo.DeleteExpired(ctx, before, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
