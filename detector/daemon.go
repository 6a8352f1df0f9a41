// Package detector implements the heartbeat/inference daemon that polls the
// panel snapshot endpoint and appends events to the detections log.
package detector

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/models"
	"github.com/nemezkarl-source/DD5KA/services"
)

// alertIoUMin is the box-overlap threshold for the consecutive-hit debounce.
const alertIoUMin = 0.5

// Daemon polls the panel for snapshots and writes detection, heartbeat and
// alert events. Inference itself happens in an external sidecar; stub mode
// only heartbeats.
type Daemon struct {
	cfg       config.DetectorSettings
	events    *services.EventLog
	inference *services.InferenceClient
	gallery   *services.GalleryService // optional, indexes saved snapshots
	client    *http.Client

	// Alert debounce state: consecutive frames with overlapping
	// high-confidence boxes.
	lastBoxes   [][]float64
	consecutive int

	// Near-duplicate suppression for saved snapshots.
	lastSavedHash *goimagehash.ImageHash
}

func New(cfg config.DetectorSettings, events *services.EventLog, gallery *services.GalleryService) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		events:  events,
		gallery: gallery,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	if cfg.Backend == "sidecar" && cfg.SidecarURL != "" {
		d.inference = services.NewInferenceClient(cfg.SidecarURL)
	}
	return d
}

// Run drives the poll loop until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	log.Printf("detector: daemon starting (poll_sec=%d, panel=%s, backend=%s)",
		d.cfg.PollSec, d.cfg.PanelBaseURL, d.cfg.Backend)

	if d.inference != nil {
		if err := d.inference.WaitForReady(60 * time.Second); err != nil {
			return fmt.Errorf("inference sidecar: %w", err)
		}
	}

	for {
		ok := d.pollPanel(ctx)
		if !ok {
			// Extra delay after failures to desynchronize with panel requests.
			extra := time.Duration(float64(d.cfg.FailExtraMs)*(0.8+0.4*rand.Float64())) * time.Millisecond
			if !sleepCtx(ctx, extra) {
				break
			}
		}

		if !sleepCtx(ctx, time.Duration(d.cfg.PollSec)*time.Second) {
			break
		}
	}

	log.Printf("detector: daemon stopped")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// pollPanel fetches one snapshot, retrying once after a transient 500/503
// with a jittered delay.
func (d *Daemon) pollPanel(ctx context.Context) bool {
	ok, transient := d.attemptSnapshot(ctx)
	if ok || !transient {
		return ok
	}

	jitter := (rand.Float64()*2 - 1) * d.cfg.RetryJitter * float64(d.cfg.RetryBaseMs)
	delay := time.Duration(max(10, int(float64(d.cfg.RetryBaseMs)+jitter))) * time.Millisecond
	log.Printf("detector: transient failure, retrying in %s", delay)
	if !sleepCtx(ctx, delay) {
		return false
	}

	ok, _ = d.attemptSnapshot(ctx)
	return ok
}

func (d *Daemon) attemptSnapshot(ctx context.Context) (ok, transient bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.PanelBaseURL+"/snapshot", nil)
	if err != nil {
		d.writeHeartbeat(false, err.Error())
		return false, false
	}
	req.Header.Set("User-Agent", "DD5KA-Detector")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("detector: heartbeat failed: %v", err)
		d.writeHeartbeat(false, err.Error())
		return false, false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusServiceUnavailable:
		log.Printf("detector: transient: HTTP %d (busy/fail)", resp.StatusCode)
		d.writeHeartbeat(false, fmt.Sprintf("transient: HTTP %d", resp.StatusCode))
		return false, true
	default:
		log.Printf("detector: heartbeat failed: HTTP %d", resp.StatusCode)
		d.writeHeartbeat(false, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return false, false
	}

	jpegData, err := io.ReadAll(resp.Body)
	if err != nil {
		d.writeHeartbeat(false, fmt.Sprintf("reading snapshot: %v", err))
		return false, false
	}

	if d.inference == nil {
		log.Printf("detector: heartbeat (snapshot ok)")
		d.writeHeartbeat(true, "")
		return true, false
	}

	return d.processFrame(jpegData), false
}

func (d *Daemon) processFrame(jpegData []byte) bool {
	result, err := d.inference.Infer(jpegData, d.cfg.MinConf)
	if err != nil {
		log.Printf("detector: inference failed: %v", err)
		d.writeHeartbeat(false, err.Error())
		return false
	}

	imagePath, imageSHA1 := d.saveSnapshot(jpegData, result.Detections)
	if imagePath != "" {
		result.Image.Path = imagePath
		result.Image.SHA1 = imageSHA1
	}

	d.checkAlert(result, imagePath, imageSHA1)

	rec := models.EventRecord{
		TS:         time.Now().UTC().Format(time.RFC3339),
		Type:       "detection",
		Backend:    d.cfg.Backend,
		Image:      &result.Image,
		Detections: result.Detections,
		Error:      result.Error,
	}
	if err := d.events.Append(rec); err != nil {
		log.Printf("detector: writing detection: %v", err)
		return false
	}
	return true
}

func (d *Daemon) writeHeartbeat(ok bool, errMsg string) {
	rec := models.EventRecord{
		TS:    time.Now().UTC().Format(time.RFC3339),
		Type:  "heartbeat",
		OK:    &ok,
		Error: errMsg,
	}
	if err := d.events.Append(rec); err != nil {
		log.Printf("detector: writing heartbeat: %v", err)
	}
}

// saveSnapshot stores the frame under save_dir/YYYY/MM/DD/ts_sha1.jpg when any
// detection clears the save threshold. Near-duplicates of the previous save
// are skipped via perceptual hashing.
func (d *Daemon) saveSnapshot(jpegData []byte, detections []models.Detection) (string, string) {
	shouldSave := false
	for _, det := range detections {
		if det.Conf >= d.cfg.SaveMinConf {
			shouldSave = true
			break
		}
	}
	if !shouldSave {
		return "", ""
	}

	if d.cfg.DedupEnabled && d.isNearDuplicate(jpegData) {
		log.Printf("detector: snapshot skipped (near-duplicate of previous save)")
		return "", ""
	}

	sum := sha1.Sum(jpegData)
	sha := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	datePath := filepath.Join(d.cfg.SaveDir, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(datePath, 0o755); err != nil {
		log.Printf("detector: creating %s: %v", datePath, err)
		return "", ""
	}

	name := fmt.Sprintf("%d_%s.jpg", now.Unix(), sha)
	path := filepath.Join(datePath, name)
	if err := os.WriteFile(path, jpegData, 0o644); err != nil {
		log.Printf("detector: saving snapshot: %v", err)
		return "", ""
	}

	log.Printf("detector: saved snapshot %s", name)
	if d.gallery != nil {
		rel := filepath.Join(now.Format("2006"), now.Format("01"), now.Format("02"), name)
		if err := d.gallery.Add(rel, now.Unix(), int64(len(jpegData)), sha); err != nil {
			log.Printf("detector: indexing snapshot: %v", err)
		}
	}
	return path, sha
}

func (d *Daemon) isNearDuplicate(jpegData []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return false
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	dup := false
	if d.lastSavedHash != nil {
		if dist, err := hash.Distance(d.lastSavedHash); err == nil && dist < d.cfg.DedupPHash {
			dup = true
		}
	}
	if !dup {
		d.lastSavedHash = hash
	}
	return dup
}

// checkAlert fires an alert event once enough consecutive frames carry
// overlapping high-confidence boxes, then resets to avoid alert spam.
func (d *Daemon) checkAlert(result *services.InferenceResult, imagePath, imageSHA1 string) bool {
	var alertDets []models.Detection
	for _, det := range result.Detections {
		if det.Conf >= d.cfg.AlertMinConf && len(det.BBoxXYXY) == 4 {
			alertDets = append(alertDets, det)
		}
	}

	if len(alertDets) == 0 {
		d.lastBoxes = nil
		d.consecutive = 0
		return false
	}

	currentBoxes := make([][]float64, len(alertDets))
	for i, det := range alertDets {
		currentBoxes[i] = det.BBoxXYXY
	}

	overlap := false
	for _, cur := range currentBoxes {
		for _, last := range d.lastBoxes {
			if IoU(cur, last) >= alertIoUMin {
				overlap = true
				break
			}
		}
		if overlap {
			break
		}
	}

	if overlap {
		d.consecutive++
	} else {
		d.consecutive = 0
	}
	d.lastBoxes = currentBoxes

	if d.consecutive < d.cfg.AlertConsec {
		return false
	}

	img := result.Image
	img.Path = imagePath
	img.SHA1 = imageSHA1
	rec := models.EventRecord{
		TS:         time.Now().UTC().Format(time.RFC3339),
		Type:       "alert",
		Backend:    d.cfg.Backend,
		Image:      &img,
		Detections: alertDets,
		Criteria: &models.Criteria{
			Consec:  d.cfg.AlertConsec,
			IoUMin:  alertIoUMin,
			MinConf: d.cfg.AlertMinConf,
		},
	}
	if err := d.events.Append(rec); err != nil {
		log.Printf("detector: writing alert: %v", err)
		return false
	}

	log.Printf("detector: alert fired (consec=%d, dets=%d)", d.consecutive, len(alertDets))
	d.consecutive = 0
	return true
}

// IoU computes intersection-over-union for two [x1,y1,x2,y2] boxes.
func IoU(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}

	x1 := math.Max(a[0], b[0])
	y1 := math.Max(a[1], b[1])
	x2 := math.Min(a[2], b[2])
	y2 := math.Min(a[3], b[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
