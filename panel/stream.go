package panel

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// StreamState is the connection state of the overlay stream.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamLive
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamLive:
		return "live"
	default:
		return "disconnected"
	}
}

// StreamConfig holds the stream lifecycle timings. MJPEG failure is ambiguous:
// some failures surface as a transport error, others just stall silently. The
// watchdog covers the silent case, the error path covers the loud one, and the
// shared throttle plus the first-frame latch keep the two from double-firing.
type StreamConfig struct {
	// ReconnectThrottle is the minimum gap between accepted reconnects.
	ReconnectThrottle time.Duration
	// WatchdogDelay is how long after a reconnect to wait for a first frame
	// before declaring a stall.
	WatchdogDelay time.Duration
	// ErrorGrace is the delay between a stream error and the reconnect attempt.
	ErrorGrace time.Duration
	// FadeDelay is the fallback fade-out time once frames are flowing again.
	FadeDelay time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectThrottle: 5 * time.Second,
		WatchdogDelay:     1200 * time.Millisecond,
		ErrorGrace:        800 * time.Millisecond,
		FadeDelay:         200 * time.Millisecond,
	}
}

// StreamHooks are the view callbacks. Any hook may be nil.
type StreamHooks struct {
	OnFrame    func(jpeg []byte)
	OnFallback func(visible bool)
	OnState    func(state StreamState)
}

// StreamController owns the overlay stream lifecycle: connect, detect stall,
// show fallback, reconnect.
type StreamController struct {
	client     *Client
	httpClient *http.Client
	cfg        StreamConfig
	hooks      StreamHooks

	mu              sync.Mutex
	attached        bool
	state           StreamState
	fallbackVisible bool
	firstFrameOK    bool
	lastReconnect   time.Time
	gen             int // connection generation; stale reader events carry an old gen
	cancel          context.CancelFunc
	watchdog        *time.Timer
	fade            *time.Timer
	grace           *time.Timer
}

func NewStreamController(client *Client, cfg StreamConfig, hooks StreamHooks) *StreamController {
	return &StreamController{
		client:     client,
		httpClient: &http.Client{},
		cfg:        cfg,
		hooks:      hooks,
	}
}

// State returns the current connection state.
func (s *StreamController) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FallbackVisible reports whether the placeholder is currently shown.
func (s *StreamController) FallbackVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackVisible
}

// FirstFrameOK reports whether the current connection has delivered a frame.
func (s *StreamController) FirstFrameOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstFrameOK
}

// Attach enters the stream view: hides any fallback and connects.
func (s *StreamController) Attach() {
	s.mu.Lock()
	s.attached = true
	hide := s.hideFallbackLocked()
	s.mu.Unlock()

	hide()
	s.Reconnect()
}

// Detach leaves the stream view: stops the reader and all timers so the
// stream stops consuming bandwidth.
func (s *StreamController) Detach() {
	s.mu.Lock()
	s.attached = false
	s.gen++
	s.firstFrameOK = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopTimersLocked()
	s.fallbackVisible = false
	changed := s.state != StreamDisconnected
	s.state = StreamDisconnected
	notify := s.hooks.OnState
	s.mu.Unlock()

	if changed && notify != nil {
		notify(StreamDisconnected)
	}
}

// Reconnect starts a fresh connection with a cache-busting URL. Calls within
// the throttle window of the previous accepted reconnect are no-ops; returns
// whether the reconnect was accepted.
func (s *StreamController) Reconnect() bool {
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return false
	}
	if !s.lastReconnect.IsZero() && time.Since(s.lastReconnect) < s.cfg.ReconnectThrottle {
		s.mu.Unlock()
		return false
	}

	s.lastReconnect = time.Now()
	s.firstFrameOK = false
	s.gen++
	gen := s.gen

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.stopTimersLocked()
	s.watchdog = time.AfterFunc(s.cfg.WatchdogDelay, func() { s.onWatchdog(gen) })

	s.state = StreamConnecting
	notify := s.hooks.OnState
	url := s.client.StreamURL()
	s.mu.Unlock()

	if notify != nil {
		notify(StreamConnecting)
	}
	go s.readStream(ctx, gen, url)
	return true
}

// onWatchdog fires when no frame arrived in time after a reconnect: the
// silent-stall path, distinct from explicit stream errors.
func (s *StreamController) onWatchdog(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.firstFrameOK {
		s.mu.Unlock()
		return
	}
	show := s.showFallbackLocked()
	s.mu.Unlock()

	show()
}

func (s *StreamController) onFrame(gen int, frame []byte) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	var notify func(StreamState)
	if !s.firstFrameOK {
		s.firstFrameOK = true
		s.state = StreamLive
		notify = s.hooks.OnState
		if s.watchdog != nil {
			s.watchdog.Stop()
			s.watchdog = nil
		}
		if s.fallbackVisible && s.fade == nil {
			s.fade = time.AfterFunc(s.cfg.FadeDelay, func() { s.onFadeDone(gen) })
		}
	}
	onFrame := s.hooks.OnFrame
	s.mu.Unlock()

	if notify != nil {
		notify(StreamLive)
	}
	if onFrame != nil {
		onFrame(frame)
	}
}

func (s *StreamController) onFadeDone(gen int) {
	s.mu.Lock()
	s.fade = nil
	if gen != s.gen || !s.fallbackVisible {
		s.mu.Unlock()
		return
	}
	s.fallbackVisible = false
	notify := s.hooks.OnFallback
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// onStreamError handles a transport failure: fallback immediately, then a
// reconnect attempt after the grace delay, still subject to the throttle.
func (s *StreamController) onStreamError(gen int, err error) {
	s.mu.Lock()
	if gen != s.gen || !s.attached {
		s.mu.Unlock()
		return
	}

	log.Printf("stream: error: %v", err)
	changed := s.state != StreamDisconnected
	s.state = StreamDisconnected
	notifyState := s.hooks.OnState
	show := s.showFallbackLocked()
	if s.grace != nil {
		s.grace.Stop()
	}
	s.grace = time.AfterFunc(s.cfg.ErrorGrace, s.retryReconnect)
	s.mu.Unlock()

	if changed && notifyState != nil {
		notifyState(StreamDisconnected)
	}
	show()
}

// retryReconnect is the grace-delayed reconnect attempt. When the attempt
// lands inside the throttle window it re-arms for the window's remainder, so
// a rejected attempt never strands the stream in Disconnected.
func (s *StreamController) retryReconnect() {
	if s.Reconnect() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached || s.state == StreamLive {
		return
	}
	wait := s.cfg.ReconnectThrottle - time.Since(s.lastReconnect)
	if wait <= 0 {
		wait = time.Millisecond
	}
	if s.grace != nil {
		s.grace.Stop()
	}
	s.grace = time.AfterFunc(wait, s.retryReconnect)
}

// showFallbackLocked makes the placeholder visible at most once and returns
// the hook invocation to run after unlocking.
func (s *StreamController) showFallbackLocked() func() {
	if s.fade != nil {
		s.fade.Stop()
		s.fade = nil
	}
	if s.fallbackVisible {
		return func() {}
	}
	s.fallbackVisible = true
	notify := s.hooks.OnFallback
	return func() {
		if notify != nil {
			notify(true)
		}
	}
}

func (s *StreamController) hideFallbackLocked() func() {
	if s.fade != nil {
		s.fade.Stop()
		s.fade = nil
	}
	if !s.fallbackVisible {
		return func() {}
	}
	s.fallbackVisible = false
	notify := s.hooks.OnFallback
	return func() {
		if notify != nil {
			notify(false)
		}
	}
}

func (s *StreamController) stopTimersLocked() {
	for _, t := range []*time.Timer{s.watchdog, s.fade, s.grace} {
		if t != nil {
			t.Stop()
		}
	}
	s.watchdog, s.fade, s.grace = nil, nil, nil
}

// readStream consumes multipart JPEG parts until the connection drops or the
// generation is cancelled.
func (s *StreamController) readStream(ctx context.Context, gen int, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.onStreamError(gen, err)
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.onStreamError(gen, err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.onStreamError(gen, fmt.Errorf("stream returned %d", resp.StatusCode))
		return
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		s.onStreamError(gen, fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type")))
		return
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			if ctx.Err() == nil {
				s.onStreamError(gen, err)
			}
			return
		}
		frame, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			if ctx.Err() == nil {
				s.onStreamError(gen, err)
			}
			return
		}
		s.onFrame(gen, frame)
	}
}
