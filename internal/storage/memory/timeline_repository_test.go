package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/hms/internal/domain"
	"github.com/vladislavdragonenkov/hms/internal/storage/memory"
)

func TestTimelineRepository_AppendKeepsChronology(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	events := []domain.TimelineEvent{
		{AdmissionID: "a1", Type: domain.EventAdmissionCanceled, Occurred: base.Add(time.Hour)},
		{AdmissionID: "a1", Type: domain.EventAdmissionCreated, Occurred: base},
		{AdmissionID: "a2", Type: domain.EventAdmissionCreated, Occurred: base},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := repo.List(ctx, "a1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].Type != domain.EventAdmissionCreated || got[1].Type != domain.EventAdmissionCanceled {
		t.Fatalf("unexpected timeline %+v", got)
	}

	empty, _ := repo.List(ctx, "missing")
	if len(empty) != 0 {
		t.Fatalf("expected empty timeline, got %d", len(empty))
	}
}
