package domain

import "context"

// ListFilter ограничивает выборку госпитализаций. Пустые поля не фильтруют.
type ListFilter struct {
	Status    AdmissionStatus
	PatientID string
	Limit     int
}

// AdmissionRepository описывает требования к хранилищу госпитализаций.
type AdmissionRepository interface {
	// Create сохраняет новую госпитализацию. ErrAdmissionExists, если ID или номер заняты.
	Create(ctx context.Context, admission Admission) error
	// Get возвращает госпитализацию или ErrAdmissionNotFound.
	Get(ctx context.Context, id string) (Admission, error)
	// List возвращает госпитализации от новых к старым.
	List(ctx context.Context, filter ListFilter) ([]Admission, error)
	// Save применяет обновления с учётом optimistic locking по полю Version.
	Save(ctx context.Context, admission Admission) error
}
