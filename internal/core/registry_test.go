package core

import (
	"errors"
	"testing"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

func TestRegistryMergeProgressKeepsAbsentFields(t *testing.T) {
	r := NewRegistry(logging.Nop())
	r.Replace([]models.Session{{
		SessionID:     "s1",
		Status:        models.StatusProcessing,
		OriginalText:  "full text",
		TotalSegments: 4,
		Progress:      25,
	}})

	got := r.MergeProgress(models.ProgressUpdate{
		SessionID:       "s1",
		Progress:        models.Some(50.0),
		CurrentPosition: models.Some(2),
	})

	if got.OriginalText != "full text" || got.TotalSegments != 4 || got.Status != models.StatusProcessing {
		t.Errorf("absent fields not preserved: %+v", got)
	}
	if got.Progress != 50 || got.CurrentPosition != 2 {
		t.Errorf("reported fields not merged: %+v", got)
	}
}

func TestRegistryErrorMessagePresence(t *testing.T) {
	r := NewRegistry(logging.Nop())
	r.Upsert(models.Session{SessionID: "s1", Status: models.StatusFailed, ErrorMessage: "boom"})

	tests := []struct {
		name   string
		update models.ProgressUpdate
		want   string
	}{
		{"absent keeps", models.ProgressUpdate{SessionID: "s1"}, "boom"},
		{"value replaces", models.ProgressUpdate{SessionID: "s1", ErrorMessage: models.Some("worse")}, "worse"},
		{"null clears", models.ProgressUpdate{SessionID: "s1", ErrorMessage: models.Null[string]()}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.MergeProgress(tt.update).ErrorMessage; got != tt.want {
				t.Errorf("ErrorMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryProgressMonotoneWhileActive(t *testing.T) {
	r := NewRegistry(logging.Nop())
	r.Upsert(models.Session{SessionID: "s1", Status: models.StatusProcessing, Progress: 60})

	got := r.MergeProgress(models.ProgressUpdate{SessionID: "s1", Progress: models.Some(40.0)})
	if got.Progress != 60 {
		t.Errorf("progress regressed to %.1f while processing", got.Progress)
	}

	// A stale full list must not move it back either.
	r.Replace([]models.Session{{SessionID: "s1", Status: models.StatusQueued, Progress: 10}})
	if s, _ := r.Get("s1"); s.Progress != 60 {
		t.Errorf("progress after list refresh = %.1f, want 60", s.Progress)
	}

	// Once terminal the service's value is taken as is.
	r.MergeProgress(models.ProgressUpdate{SessionID: "s1", Status: models.Some(models.StatusFailed), Progress: models.Some(40.0)})
	if s, _ := r.Get("s1"); s.Progress != 40 {
		t.Errorf("terminal progress = %.1f, want 40", s.Progress)
	}
}

func TestRegistryReplaceKeepsSegmentsAndOrder(t *testing.T) {
	r := NewRegistry(logging.Nop())
	r.MergeDetail(models.SessionDetail{
		Session: models.Session{SessionID: "b", Status: models.StatusCompleted, Progress: 100},
		Segments: []models.Segment{
			{SegmentIndex: 1, OriginalText: "two"},
			{SegmentIndex: 0, OriginalText: "one"},
		},
	})

	r.Replace([]models.Session{
		{SessionID: "c", Status: models.StatusQueued},
		{SessionID: "b", Status: models.StatusCompleted, Progress: 100},
		{SessionID: "a", Status: models.StatusProcessing},
	})

	var ids []string
	for _, s := range r.List() {
		ids = append(ids, s.SessionID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "b" || ids[2] != "a" {
		t.Errorf("order = %v, want [c b a]", ids)
	}

	segs, ok := r.Segments("b")
	if !ok || len(segs) != 2 || segs[0].SegmentIndex != 0 {
		t.Errorf("segments = %+v, %v", segs, ok)
	}
	if _, ok := r.Segments("c"); ok {
		t.Error("session without detail should report no segments")
	}

	first, ok := r.FirstActive()
	if !ok || first.SessionID != "c" {
		t.Errorf("FirstActive() = %s, %v, want c", first.SessionID, ok)
	}

	if !r.Remove("c") || r.Remove("c") {
		t.Error("Remove() should succeed once")
	}
	if first, _ := r.FirstActive(); first.SessionID != "a" {
		t.Errorf("FirstActive() after remove = %s, want a", first.SessionID)
	}
}

func TestRegistryMergeProgressUnknownSession(t *testing.T) {
	r := NewRegistry(logging.Nop())
	got := r.MergeProgress(models.ProgressUpdate{SessionID: "new", Status: models.Some(models.StatusQueued)})
	if got.SessionID != "new" || got.Status != models.StatusQueued || r.Len() != 1 {
		t.Errorf("MergeProgress() = %+v, len %d", got, r.Len())
	}
}

func TestActiveSlotSingleLease(t *testing.T) {
	slot := NewActiveSlot()

	first, err := slot.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := slot.Reserve(); !errors.Is(err, ErrActiveSession) || !api.IsPreconditionFailed(err) {
		t.Fatalf("second Reserve() = %v, want ErrActiveSession", err)
	}
	if _, ok := slot.ActiveID(); ok {
		t.Error("unbound lease should not report an active id")
	}
	if !slot.Busy() {
		t.Error("slot should be busy while a lease is live")
	}

	first.Bind("s1")
	if id, ok := slot.ActiveID(); !ok || id != "s1" {
		t.Errorf("ActiveID() = %q, %v", id, ok)
	}

	first.Release()
	first.Release()
	if first.Live() || slot.Busy() {
		t.Error("released lease still holds the slot")
	}

	second, err := slot.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	// A stale handle must not free someone else's lease.
	first.Release()
	if !second.Live() || !slot.Busy() {
		t.Error("stale release freed the current lease")
	}
}

func TestFailureSummary(t *testing.T) {
	tests := []struct {
		name string
		s    models.Session
		want string
	}{
		{"server message", models.Session{SessionID: "s", Status: models.StatusFailed, ErrorMessage: "quota"}, "session s failed: quota"},
		{"resume hint", models.Session{SessionID: "s", Status: models.StatusFailed, CurrentPosition: 2, TotalSegments: 5},
			"session s stopped at segment 3/5; run 'polish-int retry s' to resume"},
		{"nothing left", models.Session{SessionID: "s", Status: models.StatusFailed, CurrentPosition: 5, TotalSegments: 5}, "session s failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureSummary(tt.s); got != tt.want {
				t.Errorf("FailureSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}
