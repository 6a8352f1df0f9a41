package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/metrics"
)

// ErrCameraBusy is returned when a capture is already in flight. The snapshot
// endpoint maps it to 503 so the detector treats it as transient.
var ErrCameraBusy = fmt.Errorf("camera busy")

const minValidJPEG = 1000 // rpicam-still emits well over 1 KB for any real frame

// CameraService captures JPEG stills by shelling out to rpicam-still.
// Only one capture may run at a time; concurrent callers get ErrCameraBusy.
type CameraService struct {
	cfg     config.CameraSettings
	metrics *metrics.Metrics

	mu        sync.Mutex
	capturing bool

	lastOK    time.Time
	lastError error
	stateMu   sync.Mutex
}

func NewCameraService(cfg config.CameraSettings, m *metrics.Metrics) *CameraService {
	return &CameraService{cfg: cfg, metrics: m}
}

// Capture grabs one JPEG frame, retrying transient failures with a short pause.
func (c *CameraService) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil, ErrCameraBusy
	}
	c.capturing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.capturing = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		data, err := c.captureOnce(ctx)
		if err == nil {
			c.setState(nil)
			if c.metrics != nil {
				c.metrics.SnapshotsCaptured.Inc()
			}
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.Retries {
			log.Printf("camera: snapshot retry #%d failed: %v", attempt+1, err)
			time.Sleep(100 * time.Millisecond)
		}
	}

	c.setState(lastErr)
	if c.metrics != nil {
		c.metrics.SnapshotErrors.Inc()
	}
	return nil, fmt.Errorf("camera capture failed after %d attempts: %w", c.cfg.Retries+1, lastErr)
}

func (c *CameraService) captureOnce(ctx context.Context) ([]byte, error) {
	start := time.Now()

	// Timeout covers the exposure time plus a 2s process startup buffer.
	deadline := time.Duration(c.cfg.TimeoutMs)*time.Millisecond + 2*time.Second
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.cfg.Binary,
		"-n",
		"-o", "-",
		"-t", strconv.Itoa(c.cfg.TimeoutMs),
		"--quality", strconv.Itoa(c.cfg.Quality),
		"--thumb", "none",
		"--width", strconv.Itoa(c.cfg.MaxSide),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("rpicam-still timed out after %s", deadline)
		}
		return nil, fmt.Errorf("rpicam-still: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}

	data := stdout.Bytes()
	if len(data) < minValidJPEG {
		return nil, fmt.Errorf("invalid JPEG size: %d bytes", len(data))
	}

	log.Printf("camera: snapshot captured %dx? in %dms", c.cfg.MaxSide, time.Since(start).Milliseconds())
	return data, nil
}

func (c *CameraService) setState(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if err == nil {
		c.lastOK = time.Now()
		c.lastError = nil
	} else {
		c.lastError = err
	}
}

// Health reports "ok", "busy" or "error" for the health endpoint.
func (c *CameraService) Health() string {
	c.mu.Lock()
	busy := c.capturing
	c.mu.Unlock()
	if busy {
		return "busy"
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.lastError != nil && time.Since(c.lastOK) > 30*time.Second {
		return "error"
	}
	return "ok"
}
