package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/storage/memory"
)

func newAdmission(id string, created time.Time) domain.Admission {
	a := domain.Admission{
		ID:              id,
		AdmissionNumber: "ADM-20260101-" + id,
		Patient:         domain.PatientInfo{ID: "patient-" + id},
		Status:          domain.AdmissionStatusAdmitted,
		DateAdmitted:    created,
		Charges:         domain.NewChargeSet(decimal.NewFromInt(300)),
		Discount:        domain.NoDiscount(),
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	a.Recompute()
	return a
}

func TestAdmissionRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAdmissionRepository()
	a := newAdmission("a1", time.Now().UTC())

	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, a); !errors.Is(err, domain.ErrAdmissionExists) {
		t.Fatalf("expected ErrAdmissionExists, got %v", err)
	}

	dup := newAdmission("a2", time.Now().UTC())
	dup.AdmissionNumber = a.AdmissionNumber
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrAdmissionExists) {
		t.Fatalf("expected ErrAdmissionExists for duplicate number, got %v", err)
	}

	stored, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.AdmissionNumber != a.AdmissionNumber || !stored.Totals.Equal(a.Totals) {
		t.Fatalf("unexpected stored admission %+v", stored)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrAdmissionNotFound) {
		t.Fatalf("expected ErrAdmissionNotFound, got %v", err)
	}
}

func TestAdmissionRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAdmissionRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		a := newAdmission(id, base.Add(time.Duration(i)*time.Hour))
		if id == "a2" {
			a.Status = domain.AdmissionStatusCanceled
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	all, err := repo.List(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a3" || all[2].ID != "a1" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	canceled, _ := repo.List(ctx, domain.ListFilter{Status: domain.AdmissionStatusCanceled})
	if len(canceled) != 1 || canceled[0].ID != "a2" {
		t.Fatalf("unexpected status filter result %v", ids(canceled))
	}

	byPatient, _ := repo.List(ctx, domain.ListFilter{PatientID: "patient-a1"})
	if len(byPatient) != 1 || byPatient[0].ID != "a1" {
		t.Fatalf("unexpected patient filter result %v", ids(byPatient))
	}

	limited, _ := repo.List(ctx, domain.ListFilter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected 2 admissions, got %d", len(limited))
	}
}

func TestAdmissionRepository_SaveVersioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAdmissionRepository()
	a := newAdmission("a1", time.Now().UTC())
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	a.SeatNumber = "B-12"
	a.AdmissionNumber = "tampered"
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored, _ := repo.Get(ctx, a.ID)
	if stored.Version != 1 || stored.SeatNumber != "B-12" {
		t.Fatalf("unexpected stored admission %+v", stored)
	}
	if stored.AdmissionNumber != "ADM-20260101-a1" {
		t.Fatalf("admission number must be immutable, got %s", stored.AdmissionNumber)
	}

	// Сохранение со старой версией даёт конфликт.
	if err := repo.Save(ctx, a); !errors.Is(err, domain.ErrAdmissionVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	if err := repo.Save(ctx, newAdmission("missing", time.Now())); !errors.Is(err, domain.ErrAdmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdmissionRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAdmissionRepository()
	a := newAdmission("a1", time.Now().UTC())
	discharged := time.Now().UTC()
	a.DateDischarged = &discharged
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, _ := repo.Get(ctx, a.ID)
	*got.DateDischarged = got.DateDischarged.Add(24 * time.Hour)

	again, _ := repo.Get(ctx, a.ID)
	if !again.DateDischarged.Equal(discharged) {
		t.Fatalf("stored admission mutated through returned pointer")
	}
}

func ids(list []domain.Admission) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
