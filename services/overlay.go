package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/metrics"
	"github.com/nemezkarl-source/DD5KA/models"
)

var boxGreen = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// OverlayStream serves the MJPEG detection-overlay feed. Frames come from the
// camera at capture FPS and are re-served at output FPS from a last-good cache,
// with bounding boxes drawn from the newest fresh detection event.
type OverlayStream struct {
	cfg     config.OverlaySettings
	camera  *CameraService
	events  *EventLog
	metrics *metrics.Metrics

	mu           sync.Mutex
	lastOKFrame  []byte
	lastCapture  time.Time
	lastErrorLog time.Time
}

func NewOverlayStream(cfg config.OverlaySettings, camera *CameraService, events *EventLog, m *metrics.Metrics) *OverlayStream {
	return &OverlayStream{cfg: cfg, camera: camera, events: events, metrics: m}
}

// ServeHTTP streams multipart JPEG frames until the client goes away.
func (o *OverlayStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	if o.metrics != nil {
		o.metrics.OverlayClients.Inc()
		defer o.metrics.OverlayClients.Dec()
	}

	outputInterval := time.Second / time.Duration(o.cfg.OutputFPS)
	first := true

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		frame := o.nextFrame(r.Context(), first)
		first = false

		header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write([]byte(header)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()

		if o.metrics != nil {
			o.metrics.OverlayFrames.Inc()
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(outputInterval):
		}
	}
}

// nextFrame produces one annotated JPEG. The first frame never blocks on the
// camera so the client's load signal fires immediately.
func (o *OverlayStream) nextFrame(ctx context.Context, first bool) []byte {
	jpegData := o.snapshot(ctx, first)
	if jpegData == nil {
		jpegData = o.noFrame()
	}

	event, age, fresh := o.freshDetection()

	annotated, err := o.annotate(jpegData, event)
	if err != nil {
		// Serve the raw frame rather than dropping a tick.
		annotated = jpegData
	}

	dets := 0
	if event != nil {
		dets = len(event.Detections)
	}
	if dets > 0 {
		log.Printf("overlay: frame dets=%d age_ms=%d fresh=%v first=%v", dets, age.Milliseconds(), fresh, first)
	}
	return annotated
}

func (o *OverlayStream) snapshot(ctx context.Context, first bool) []byte {
	o.mu.Lock()
	cached := o.lastOKFrame
	captureInterval := time.Second / time.Duration(o.cfg.CaptureFPS)
	due := time.Since(o.lastCapture) >= captureInterval
	o.mu.Unlock()

	if first || !due {
		return cached
	}

	data, err := o.camera.Capture(ctx)
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		if time.Since(o.lastErrorLog) >= 5*time.Second {
			log.Printf("overlay: no frame, using last_ok_frame: %v", err)
			o.lastErrorLog = time.Now()
		}
		return o.lastOKFrame
	}

	o.mu.Lock()
	o.lastOKFrame = data
	o.lastCapture = time.Now()
	o.mu.Unlock()
	return data
}

// freshDetection fetches the newest detection event and drops it if older than
// the configured max age.
func (o *OverlayStream) freshDetection() (*models.EventRecord, time.Duration, bool) {
	event, err := o.events.RecentDetection(o.cfg.MinConf)
	if err != nil {
		log.Printf("overlay: reading detections: %v", err)
		return nil, 0, false
	}
	if event == nil {
		return nil, 0, false
	}

	ts, err := time.Parse(time.RFC3339, event.TS)
	if err != nil {
		log.Printf("overlay: bad event timestamp %q: %v", event.TS, err)
		return nil, 0, false
	}

	age := time.Since(ts)
	if age > time.Duration(o.cfg.DetMaxAgeMs)*time.Millisecond {
		return nil, age, false
	}
	return event, age, true
}

// annotate decodes the JPEG, draws detection boxes and labels, and re-encodes.
func (o *OverlayStream) annotate(jpegData []byte, event *models.EventRecord) ([]byte, error) {
	if event == nil || len(event.Detections) == 0 {
		return jpegData, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	// Detections carry coordinates in the event's image space; scale to ours.
	scaleX, scaleY := 1.0, 1.0
	if event.Image != nil && event.Image.Width > 0 && event.Image.Height > 0 {
		scaleX = float64(bounds.Dx()) / float64(event.Image.Width)
		scaleY = float64(bounds.Dy()) / float64(event.Image.Height)
	}

	for _, det := range event.Detections {
		if len(det.BBoxXYXY) != 4 {
			continue
		}
		x1 := clampInt(int(det.BBoxXYXY[0]*scaleX), 0, bounds.Dx()-1)
		y1 := clampInt(int(det.BBoxXYXY[1]*scaleY), 0, bounds.Dy()-1)
		x2 := clampInt(int(det.BBoxXYXY[2]*scaleX), 0, bounds.Dx()-1)
		y2 := clampInt(int(det.BBoxXYXY[3]*scaleY), 0, bounds.Dy()-1)

		drawRect(img, x1, y1, x2, y2, 2)

		name := det.ClassName
		if name == "" {
			name = "OBJ"
		}
		drawLabel(img, x1, y1-6, fmt.Sprintf("%s %.2f", name, det.Conf))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// noFrame renders the black "NO FRAME" placeholder.
func (o *OverlayStream) noFrame() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	drawLabel(img, 280, 240, "NO FRAME")

	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	return buf.Bytes()
}

func drawRect(img *image.RGBA, x1, y1, x2, y2, width int) {
	for w := 0; w < width; w++ {
		for x := x1; x <= x2; x++ {
			img.Set(x, y1+w, boxGreen)
			img.Set(x, y2-w, boxGreen)
		}
		for y := y1; y <= y2; y++ {
			img.Set(x1+w, y, boxGreen)
			img.Set(x2-w, y, boxGreen)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	if y < basicfont.Face7x13.Height {
		y = basicfont.Face7x13.Height
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(boxGreen),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
