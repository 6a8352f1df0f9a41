package services

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nemezkarl-source/DD5KA/metrics"
	"github.com/nemezkarl-source/DD5KA/models"
)

// EventLog reads and appends the detections JSONL file. The detector daemon
// appends; the panel tails it for the event list and the overlay stream.
type EventLog struct {
	path      string
	tailBytes int
	metrics   *metrics.Metrics

	mu sync.Mutex
}

func NewEventLog(path string, tailBytes int, m *metrics.Metrics) *EventLog {
	if tailBytes <= 0 {
		tailBytes = 65536
	}
	return &EventLog{path: path, tailBytes: tailBytes, metrics: m}
}

// Append writes one event as a JSONL line, assigning an ID if absent.
func (l *EventLog) Append(rec models.EventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if l.metrics != nil {
		l.metrics.EventsWritten.WithLabelValues(rec.Type).Inc()
	}
	return nil
}

// Last returns up to n events from the tail of the log, newest first.
// A missing file yields an empty slice, not an error.
func (l *EventLog) Last(n int) ([]models.EventRecord, error) {
	lines, err := l.tailLines()
	if err != nil {
		return nil, err
	}

	events := make([]models.EventRecord, 0, n)
	for i := len(lines) - 1; i >= 0 && len(events) < n; i-- {
		var rec models.EventRecord
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			continue // partial or corrupt line at the tail boundary
		}
		events = append(events, rec)
	}
	return events, nil
}

// RecentDetection returns the newest detection event whose detections pass the
// confidence filter, or nil when none is in the tail window.
func (l *EventLog) RecentDetection(minConf float64) (*models.EventRecord, error) {
	lines, err := l.tailLines()
	if err != nil {
		return nil, err
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var rec models.EventRecord
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			continue
		}
		if rec.Type != "detection" {
			continue
		}
		var kept []models.Detection
		for _, det := range rec.Detections {
			if det.Conf >= minConf {
				kept = append(kept, det)
			}
		}
		if len(kept) > 0 {
			rec.Detections = kept
			return &rec, nil
		}
	}
	return nil, nil
}

func (l *EventLog) tailLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", l.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	seekPos := fi.Size() - int64(l.tailBytes)
	if seekPos < 0 {
		seekPos = 0
	}
	if _, err := f.Seek(seekPos, io.SeekStart); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	raw := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines := raw[:0]
	for _, ln := range raw {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	return lines, nil
}
