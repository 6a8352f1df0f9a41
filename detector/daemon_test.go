package detector

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/models"
	"github.com/nemezkarl-source/DD5KA/services"
)

func TestIoU(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{0, 0, 10, 10}, []float64{0, 0, 10, 10}, 1.0},
		{"disjoint", []float64{0, 0, 10, 10}, []float64{20, 20, 30, 30}, 0},
		{"touching", []float64{0, 0, 10, 10}, []float64{10, 0, 20, 10}, 0},
		{"half", []float64{0, 0, 10, 10}, []float64{5, 0, 15, 10}, 1.0 / 3.0},
		{"contained", []float64{0, 0, 10, 10}, []float64{2, 2, 8, 8}, 36.0 / 100.0},
		{"malformed", []float64{0, 0, 10}, []float64{0, 0, 10, 10}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IoU(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("IoU(%v, %v) = %g, want %g", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func testDaemon(t *testing.T) (*Daemon, *services.EventLog) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "detections.jsonl")
	events := services.NewEventLog(logPath, 65536, nil)
	cfg := config.DetectorSettings{
		Backend:      "stub",
		PollSec:      1,
		MinConf:      0.35,
		SaveMinConf:  0.5,
		AlertMinConf: 0.6,
		AlertConsec:  2,
		RetryBaseMs:  20,
		RetryJitter:  0.2,
		FailExtraMs:  10,
		SaveDir:      t.TempDir(),
	}
	return New(cfg, events, nil), events
}

func detResult(boxes ...[]float64) *services.InferenceResult {
	res := &services.InferenceResult{Image: models.ImageInfo{Width: 640, Height: 480}}
	for _, b := range boxes {
		res.Detections = append(res.Detections, models.Detection{
			ClassName: "person",
			Conf:      0.9,
			BBoxXYXY:  b,
		})
	}
	return res
}

func TestAlertFiresAfterConsecutiveOverlap(t *testing.T) {
	d, events := testDaemon(t)
	box := []float64{100, 100, 200, 200}

	if d.checkAlert(detResult(box), "", "") {
		t.Fatal("alert on the first frame")
	}
	if d.checkAlert(detResult(box), "", "") {
		t.Fatal("alert after one overlap, want two")
	}
	if !d.checkAlert(detResult(box), "", "") {
		t.Fatal("no alert after two consecutive overlaps")
	}

	recs, err := events.Last(5)
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(recs) != 1 || recs[0].Type != "alert" {
		t.Fatalf("events = %+v, want one alert", recs)
	}
	if recs[0].Criteria == nil || recs[0].Criteria.Consec != 2 {
		t.Fatalf("alert criteria = %+v", recs[0].Criteria)
	}
}

func TestAlertResetsAfterFiring(t *testing.T) {
	d, _ := testDaemon(t)
	box := []float64{0, 0, 50, 50}

	d.checkAlert(detResult(box), "", "")
	d.checkAlert(detResult(box), "", "")
	if !d.checkAlert(detResult(box), "", "") {
		t.Fatal("no alert")
	}
	// Debounce restarts: the very next overlap must not fire again.
	if d.checkAlert(detResult(box), "", "") {
		t.Fatal("alert refired immediately after reset")
	}
}

func TestAlertResetsOnEmptyFrame(t *testing.T) {
	d, _ := testDaemon(t)
	box := []float64{0, 0, 50, 50}

	d.checkAlert(detResult(box), "", "")
	d.checkAlert(detResult(box), "", "")
	d.checkAlert(detResult(), "", "") // nothing detected
	d.checkAlert(detResult(box), "", "")
	if d.checkAlert(detResult(box), "", "") {
		t.Fatal("alert fired without enough consecutive overlaps after reset")
	}
}

func TestAlertIgnoresLowConfidence(t *testing.T) {
	d, _ := testDaemon(t)
	low := &services.InferenceResult{Detections: []models.Detection{{
		ClassName: "person", Conf: 0.4, BBoxXYXY: []float64{0, 0, 50, 50},
	}}}

	for i := 0; i < 5; i++ {
		if d.checkAlert(low, "", "") {
			t.Fatal("alert fired on sub-threshold detections")
		}
	}
}

func TestAlertRequiresSpatialOverlap(t *testing.T) {
	d, _ := testDaemon(t)

	d.checkAlert(detResult([]float64{0, 0, 50, 50}), "", "")
	d.checkAlert(detResult([]float64{500, 500, 550, 550}), "", "")
	if d.checkAlert(detResult([]float64{0, 0, 50, 50}), "", "") {
		t.Fatal("alert fired for boxes jumping around the frame")
	}
}

func TestPollPanelRetriesTransient(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	}))
	defer srv.Close()

	d, events := testDaemon(t)
	d.cfg.PanelBaseURL = srv.URL

	if !d.pollPanel(context.Background()) {
		t.Fatal("poll failed despite the retry succeeding")
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("snapshot requests = %d, want 2 (one retry)", got)
	}

	recs, err := events.Last(5)
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	// Newest first: the successful heartbeat, then the transient failure.
	if len(recs) != 2 || recs[0].Type != "heartbeat" || recs[0].OK == nil || !*recs[0].OK {
		t.Fatalf("events = %+v, want a successful heartbeat on top", recs)
	}
	if recs[1].OK == nil || *recs[1].OK {
		t.Fatalf("transient failure not recorded: %+v", recs[1])
	}
}

func TestPollPanelHardFailureNoRetry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, _ := testDaemon(t)
	d.cfg.PanelBaseURL = srv.URL

	if d.pollPanel(context.Background()) {
		t.Fatal("poll reported success against a 404")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("snapshot requests = %d, want no retry on a hard failure", got)
	}
}
