package panel

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

// Notifier surfaces transient notifications to the operator.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// ControllerConfig holds polling and refresh timings.
type ControllerConfig struct {
	StatusInterval time.Duration // detector/health/led/network poll
	EventsInterval time.Duration // event list poll
	RefreshDelay   time.Duration // wait after an action before re-polling
	EventCount     int           // events fetched per tick
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		StatusInterval: 2 * time.Second,
		EventsInterval: 3 * time.Second,
		RefreshDelay:   500 * time.Millisecond,
		EventCount:     20,
	}
}

// ControllerHooks are the view callbacks for status rendering. Any may be nil.
type ControllerHooks struct {
	OnDetectorStatus func(models.DetectorStatus)
	OnHealth         func(models.HealthStatus)
	OnLEDStatus      func(models.LEDStatus)
	OnNetworkStatus  func(models.NetworkStatus)
	OnEvents         func([]models.EventRecord)
	// OnActionState marks the triggering control busy (disable + relabel)
	// and idle again.
	OnActionState func(action string, inFlight bool)
}

// Controller owns the control actions and the two status polling loops.
// A single in-flight lock is shared by all mutating actions: a second action
// while one is running is dropped, not queued.
type Controller struct {
	client   *Client
	notifier Notifier
	cfg      ControllerConfig
	hooks    ControllerHooks

	inFlight atomic.Bool
}

func NewController(client *Client, notifier Notifier, cfg ControllerConfig, hooks ControllerHooks) *Controller {
	return &Controller{
		client:   client,
		notifier: notifier,
		cfg:      cfg,
		hooks:    hooks,
	}
}

// StartDetector issues the detector start action. Returns false if another
// action already holds the lock.
func (c *Controller) StartDetector(ctx context.Context) bool {
	return c.runAction(ctx, "start", "detector started", c.client.DetectorStart)
}

// StopDetector issues the detector stop action.
func (c *Controller) StopDetector(ctx context.Context) bool {
	return c.runAction(ctx, "stop", "detector stopped", c.client.DetectorStop)
}

// RestartDetector issues the detector restart action.
func (c *Controller) RestartDetector(ctx context.Context) bool {
	return c.runAction(ctx, "restart", "detector restarted", c.client.DetectorRestart)
}

// TestLED fires the LED self-test.
func (c *Controller) TestLED(ctx context.Context) bool {
	return c.runAction(ctx, "test", "led test fired", c.client.TestLED)
}

func (c *Controller) runAction(ctx context.Context, name, successMsg string, fn func(context.Context) error) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		return false // dropped, not queued
	}

	if c.hooks.OnActionState != nil {
		c.hooks.OnActionState(name, true)
	}
	defer func() {
		// Guaranteed cleanup: control re-enabled, lock released, on every
		// exit path.
		if c.hooks.OnActionState != nil {
			c.hooks.OnActionState(name, false)
		}
		c.inFlight.Store(false)
	}()

	if err := fn(ctx); err != nil {
		c.notifier.Error(c.describe(name, err))
		return true
	}

	c.notifier.Success(successMsg)

	// Let the backend state settle before re-polling.
	time.AfterFunc(c.cfg.RefreshDelay, func() { c.refreshStatus(context.Background()) })
	return true
}

func (c *Controller) describe(name string, err error) string {
	switch KindOf(err) {
	case ErrTimeout:
		return fmt.Sprintf("%s: request timed out", name)
	case ErrApplication:
		return err.Error()
	default:
		return fmt.Sprintf("%s: network error", name)
	}
}

// Run drives the two polling loops until ctx is cancelled. Each tick is
// fire-and-forget; a slow fetch never blocks the ticker and the next tick
// refreshes naturally.
func (c *Controller) Run(ctx context.Context) {
	statusTicker := time.NewTicker(c.cfg.StatusInterval)
	defer statusTicker.Stop()
	eventsTicker := time.NewTicker(c.cfg.EventsInterval)
	defer eventsTicker.Stop()

	go c.refreshStatus(ctx)
	go c.refreshEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			go c.refreshStatus(ctx)
		case <-eventsTicker.C:
			go c.refreshEvents(ctx)
		}
	}
}

// refreshStatus runs the four status fetches independently: one failing
// indicator never blocks the others.
func (c *Controller) refreshStatus(ctx context.Context) {
	go func() {
		st, err := c.client.DetectorStatus(ctx)
		if err != nil {
			log.Printf("panel: detector status poll: %v", err)
			return
		}
		if c.hooks.OnDetectorStatus != nil {
			c.hooks.OnDetectorStatus(st)
		}
	}()
	go func() {
		st, err := c.client.Health(ctx)
		if err != nil {
			log.Printf("panel: health poll: %v", err)
			return
		}
		if c.hooks.OnHealth != nil {
			c.hooks.OnHealth(st)
		}
	}()
	go func() {
		st, err := c.client.LEDStatus(ctx)
		if err != nil {
			log.Printf("panel: led status poll: %v", err)
			return
		}
		if c.hooks.OnLEDStatus != nil {
			c.hooks.OnLEDStatus(st)
		}
	}()
	go func() {
		st, err := c.client.NetworkStatus(ctx)
		if err != nil {
			log.Printf("panel: network status poll: %v", err)
			return
		}
		if c.hooks.OnNetworkStatus != nil {
			c.hooks.OnNetworkStatus(st)
		}
	}()
}

// refreshEvents replaces the event list wholesale on every tick.
func (c *Controller) refreshEvents(ctx context.Context) {
	events, err := c.client.LastEvents(ctx, c.cfg.EventCount)
	if err != nil {
		log.Printf("panel: events poll: %v", err)
		return
	}
	if c.hooks.OnEvents != nil {
		c.hooks.OnEvents(events)
	}
}
