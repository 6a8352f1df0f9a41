// Package panel implements the control-panel client: an API client for the
// panel server, the overlay stream lifecycle, control actions, status polling,
// and the gallery and settings controllers.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

const (
	actionTimeout = 7 * time.Second
	statusTimeout = 5 * time.Second
)

// ErrorKind classifies a failed request for notification purposes.
type ErrorKind int

const (
	ErrTransport ErrorKind = iota
	ErrTimeout
	ErrApplication
)

// RequestError carries the failure class alongside the underlying error.
type RequestError struct {
	Kind    ErrorKind
	Op      string
	Message string // application-reported error text, if any
	Err     error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case ErrTimeout:
		return fmt.Sprintf("%s: timeout", e.Op)
	case ErrApplication:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, defaulting to ErrTransport.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return ErrTransport
}

// Client is the HTTP client for the panel server API. Control actions are
// bounded to 7 s, status reads to 5 s; the bound cancels the request, not the
// server-side work.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// StreamURL returns the overlay stream URL with a cache-busting timestamp.
func (c *Client) StreamURL() string {
	return fmt.Sprintf("%s/overlay.mjpg?ts=%d", c.baseURL, time.Now().UnixMilli())
}

// DetectorStart starts the detector process.
func (c *Client) DetectorStart(ctx context.Context) error {
	return c.postAction(ctx, "start detector", "/api/detector/start")
}

// DetectorStop stops the detector process.
func (c *Client) DetectorStop(ctx context.Context) error {
	return c.postAction(ctx, "stop detector", "/api/detector/stop")
}

// DetectorRestart restarts the detector process.
func (c *Client) DetectorRestart(ctx context.Context) error {
	return c.postAction(ctx, "restart detector", "/api/detector/restart")
}

// TestLED fires the LED self-test.
func (c *Client) TestLED(ctx context.Context) error {
	return c.postAction(ctx, "led test", "/api/led/test")
}

func (c *Client) postAction(ctx context.Context, op, path string) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(op, ctx, err)
	}
	defer resp.Body.Close()

	var result models.ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if !result.OK {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("server returned %d", resp.StatusCode)
		}
		return &RequestError{Kind: ErrApplication, Op: op, Message: msg}
	}
	return nil
}

func (c *Client) classify(op string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &RequestError{Kind: ErrTimeout, Op: op, Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestError{Kind: ErrTimeout, Op: op, Err: err}
	}
	return &RequestError{Kind: ErrTransport, Op: op, Err: err}
}

// DetectorStatus fetches the detector process state.
func (c *Client) DetectorStatus(ctx context.Context) (models.DetectorStatus, error) {
	var st models.DetectorStatus
	err := c.getJSON(ctx, "detector status", "/api/detector/status", &st)
	return st, err
}

// Health fetches subsystem health.
func (c *Client) Health(ctx context.Context) (models.HealthStatus, error) {
	var st models.HealthStatus
	err := c.getJSON(ctx, "health", "/api/health", &st)
	return st, err
}

// LEDStatus fetches the most recent LED self-test result.
func (c *Client) LEDStatus(ctx context.Context) (models.LEDStatus, error) {
	var st models.LEDStatus
	err := c.getJSON(ctx, "led status", "/api/led/status", &st)
	return st, err
}

// NetworkStatus fetches the network state.
func (c *Client) NetworkStatus(ctx context.Context) (models.NetworkStatus, error) {
	var st models.NetworkStatus
	err := c.getJSON(ctx, "network status", "/api/nm/status", &st)
	return st, err
}

// LastEvents fetches the newest n detection events.
func (c *Client) LastEvents(ctx context.Context, n int) ([]models.EventRecord, error) {
	var resp models.EventsResponse
	path := "/api/logs/last?n=" + strconv.Itoa(n)
	if err := c.getJSON(ctx, "recent events", path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// GalleryIndex fetches one page of the snapshot gallery.
func (c *Client) GalleryIndex(ctx context.Context, n, offset int) (models.GalleryIndex, error) {
	var page models.GalleryIndex
	path := fmt.Sprintf("/api/gallery/index?n=%d&offset=%d", n, offset)
	err := c.getJSON(ctx, "gallery index", path, &page)
	return page, err
}

// GetSettings fetches one settings namespace ("panel" or "detector").
func (c *Client) GetSettings(ctx context.Context, ns string) (map[string]any, error) {
	var values map[string]any
	err := c.getJSON(ctx, ns+" settings", "/api/settings/"+url.PathEscape(ns), &values)
	return values, err
}

// SaveSettings posts a flat settings object to one namespace.
func (c *Client) SaveSettings(ctx context.Context, ns string, values map[string]any) error {
	op := "save " + ns + " settings"

	body, err := json.Marshal(values)
	if err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/settings/"+url.PathEscape(ns), bytes.NewReader(body))
	if err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(op, ctx, err)
	}
	defer resp.Body.Close()

	var result models.ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if !result.OK {
		return &RequestError{Kind: ErrApplication, Op: op, Message: result.Error}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(op, ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestError{
			Kind: ErrTransport, Op: op,
			Err: fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(body)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Kind: ErrTransport, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
