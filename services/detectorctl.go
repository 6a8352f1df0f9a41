package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

// DetectorControl starts, stops and inspects the detector systemd unit.
// Actions are serialized; systemctl does not like concurrent invocations
// against the same unit.
type DetectorControl struct {
	unit string
	mu   sync.Mutex

	// runner is swapped in tests to avoid shelling out.
	runner func(ctx context.Context, args ...string) (string, error)
}

func NewDetectorControl(unit string) *DetectorControl {
	return &DetectorControl{unit: unit, runner: runSystemctl}
}

func runSystemctl(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("systemctl %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

func (d *DetectorControl) Start(ctx context.Context) error   { return d.action(ctx, "start") }
func (d *DetectorControl) Stop(ctx context.Context) error    { return d.action(ctx, "stop") }
func (d *DetectorControl) Restart(ctx context.Context) error { return d.action(ctx, "restart") }

func (d *DetectorControl) action(ctx context.Context, verb string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	log.Printf("detectorctl: %s %s", verb, d.unit)
	_, err := d.runner(ctx, verb, d.unit)
	return err
}

// Status reads ActiveState/SubState from systemctl show. An unreachable
// systemctl reports the unit as "unknown" rather than failing the endpoint.
func (d *DetectorControl) Status(ctx context.Context) models.DetectorStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := d.runner(ctx, "show", d.unit, "--property=ActiveState,SubState", "--no-pager")
	if err != nil {
		log.Printf("detectorctl: status: %v", err)
		return models.DetectorStatus{ActiveState: "unknown"}
	}

	st := models.DetectorStatus{ActiveState: "unknown"}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "ActiveState":
			st.ActiveState = value
		case "SubState":
			st.SubState = value
		}
	}
	return st
}
