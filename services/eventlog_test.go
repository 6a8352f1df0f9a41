package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

func newTestEventLog(t *testing.T) *EventLog {
	t.Helper()
	return NewEventLog(filepath.Join(t.TempDir(), "detections.jsonl"), 65536, nil)
}

func detectionRec(ts time.Time, conf float64) models.EventRecord {
	return models.EventRecord{
		TS:   ts.UTC().Format(time.RFC3339),
		Type: "detection",
		Detections: []models.Detection{
			{ClassName: "drone", Conf: conf, BBoxXYXY: []float64{10, 10, 50, 50}},
		},
	}
}

func TestEventLogAppendAssignsID(t *testing.T) {
	l := newTestEventLog(t)

	if err := l.Append(detectionRec(time.Now(), 0.8)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := l.Last(1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].ID == "" {
		t.Fatal("appended record has no ID")
	}
}

func TestEventLogLastNewestFirst(t *testing.T) {
	l := newTestEventLog(t)
	base := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		if err := l.Append(detectionRec(base.Add(time.Duration(i)*time.Second), 0.7)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := l.Last(3)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if recs[0].TS <= recs[1].TS || recs[1].TS <= recs[2].TS {
		t.Fatalf("records not newest first: %s, %s, %s", recs[0].TS, recs[1].TS, recs[2].TS)
	}
}

func TestEventLogLastMissingFile(t *testing.T) {
	l := NewEventLog(filepath.Join(t.TempDir(), "missing.jsonl"), 65536, nil)
	recs, err := l.Last(10)
	if err != nil {
		t.Fatalf("Last on missing file: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %d, want none", len(recs))
	}
}

func TestEventLogSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	l := NewEventLog(path, 65536, nil)

	if err := l.Append(detectionRec(time.Now(), 0.9)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	f.WriteString("{truncated garbage\n")
	f.Close()

	recs, err := l.Last(10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want the valid one only", len(recs))
	}
}

func TestEventLogRecentDetectionFiltersConfidence(t *testing.T) {
	l := newTestEventLog(t)
	now := time.Now()

	if err := l.Append(detectionRec(now.Add(-2*time.Second), 0.9)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(detectionRec(now, 0.2)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := l.RecentDetection(0.5)
	if err != nil {
		t.Fatalf("RecentDetection: %v", err)
	}
	if rec == nil {
		t.Fatal("no detection found above threshold")
	}
	if rec.Detections[0].Conf != 0.9 {
		t.Fatalf("conf = %g, want the 0.9 record", rec.Detections[0].Conf)
	}
}

func TestEventLogRecentDetectionIgnoresHeartbeats(t *testing.T) {
	l := newTestEventLog(t)
	ok := true

	if err := l.Append(models.EventRecord{
		TS: time.Now().UTC().Format(time.RFC3339), Type: "heartbeat", OK: &ok,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec, err := l.RecentDetection(0.0)
	if err != nil {
		t.Fatalf("RecentDetection: %v", err)
	}
	if rec != nil {
		t.Fatalf("heartbeat surfaced as a detection: %+v", rec)
	}
}

func TestEventLogTailBound(t *testing.T) {
	// A small tail window must still parse cleanly from a mid-line seek.
	l := NewEventLog(filepath.Join(t.TempDir(), "detections.jsonl"), 512, nil)
	for i := 0; i < 50; i++ {
		if err := l.Append(detectionRec(time.Now(), 0.8)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := l.Last(100)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(recs) == 0 || len(recs) >= 50 {
		t.Fatalf("records = %d, want a bounded tail window", len(recs))
	}
}
