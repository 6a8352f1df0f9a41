package services

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/models"
)

// LEDService blinks the board LED through sysfs as a hardware self-test and
// remembers the outcome of the last run.
type LEDService struct {
	cfg config.LEDSettings

	mu      sync.Mutex
	running bool
	last    models.LEDStatus
}

func NewLEDService(cfg config.LEDSettings) *LEDService {
	return &LEDService{cfg: cfg}
}

// Test runs the blink sequence in the background. A test already in progress
// is an application-level failure, not a queue.
func (l *LEDService) Test() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("led test already running")
	}
	l.running = true
	l.mu.Unlock()

	go func() {
		err := l.blink()

		l.mu.Lock()
		l.running = false
		l.last = models.LEDStatus{OK: err == nil, Tested: true}
		if err != nil {
			l.last.Error = err.Error()
			log.Printf("led: self-test failed: %v", err)
		} else {
			log.Printf("led: self-test ok (%d blinks)", l.cfg.Blinks)
		}
		l.mu.Unlock()
	}()

	return nil
}

func (l *LEDService) blink() error {
	period := time.Duration(l.cfg.PeriodMs) * time.Millisecond
	for i := 0; i < l.cfg.Blinks; i++ {
		if err := l.write("1"); err != nil {
			return err
		}
		time.Sleep(period)
		if err := l.write("0"); err != nil {
			return err
		}
		time.Sleep(period)
	}
	return nil
}

func (l *LEDService) write(value string) error {
	if err := os.WriteFile(l.cfg.GPIOPath, []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", l.cfg.GPIOPath, err)
	}
	return nil
}

// Status returns the result of the most recent self-test.
func (l *LEDService) Status() models.LEDStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
