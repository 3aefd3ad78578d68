package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/hms/internal/domain"
)

// admissionRepositoryInMemory in-memory реализация AdmissionRepository.
type admissionRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Admission
	byNumber map[string]string
}

// NewAdmissionRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewAdmissionRepository() domain.AdmissionRepository {
	return &admissionRepositoryInMemory{
		items:    make(map[string]domain.Admission),
		byNumber: make(map[string]string),
	}
}

// Create сохраняет новую госпитализацию, если ID и номер ещё не заняты.
func (r *admissionRepositoryInMemory) Create(_ context.Context, admission domain.Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[admission.ID]; exists {
		return domain.ErrAdmissionExists
	}
	if _, exists := r.byNumber[admission.AdmissionNumber]; exists && admission.AdmissionNumber != "" {
		return domain.ErrAdmissionExists
	}
	r.items[admission.ID] = cloneAdmission(admission)
	if admission.AdmissionNumber != "" {
		r.byNumber[admission.AdmissionNumber] = admission.ID
	}
	return nil
}

// Get возвращает госпитализацию или ErrAdmissionNotFound.
func (r *admissionRepositoryInMemory) Get(_ context.Context, id string) (domain.Admission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admission, ok := r.items[id]
	if !ok {
		return domain.Admission{}, domain.ErrAdmissionNotFound
	}
	return cloneAdmission(admission), nil
}

// List возвращает госпитализации от новых к старым с учётом фильтра.
func (r *admissionRepositoryInMemory) List(_ context.Context, filter domain.ListFilter) ([]domain.Admission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Admission, 0, len(r.items))
	for _, admission := range r.items {
		if filter.Status != "" && admission.Status != filter.Status {
			continue
		}
		if filter.PatientID != "" && admission.Patient.ID != filter.PatientID {
			continue
		}
		result = append(result, cloneAdmission(admission))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Save перезаписывает госпитализацию, проверяя версию (optimistic locking).
func (r *admissionRepositoryInMemory) Save(_ context.Context, admission domain.Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[admission.ID]
	if !ok {
		return domain.ErrAdmissionNotFound
	}
	if current.Version != admission.Version {
		return domain.ErrAdmissionVersionConflict
	}
	// Номер неизменяем, даже если вызывающий его подменил.
	admission.AdmissionNumber = current.AdmissionNumber
	admission.Version++
	r.items[admission.ID] = cloneAdmission(admission)
	return nil
}

// cloneAdmission копирует указатели, чтобы вызывающий не мутировал хранилище.
func cloneAdmission(src domain.Admission) domain.Admission {
	dst := src
	if src.DateDischarged != nil {
		t := *src.DateDischarged
		dst.DateDischarged = &t
	}
	if src.Patient.DateOfBirth != nil {
		t := *src.Patient.DateOfBirth
		dst.Patient.DateOfBirth = &t
	}
	return dst
}

var _ domain.AdmissionRepository = (*admissionRepositoryInMemory)(nil)
