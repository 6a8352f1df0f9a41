// Package watch is a console client for a running panel: it drives the
// stream, status and event controllers and renders their output as log lines.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nemezkarl-source/DD5KA/models"
	"github.com/nemezkarl-source/DD5KA/panel"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// consoleNotifier prints transient action notices. Colors only when stdout
// is a terminal.
type consoleNotifier struct {
	color bool
}

func (n *consoleNotifier) Success(msg string) {
	if n.color {
		fmt.Printf("%s✔ %s%s\n", colorGreen, msg, colorReset)
		return
	}
	fmt.Printf("OK %s\n", msg)
}

func (n *consoleNotifier) Error(msg string) {
	if n.color {
		fmt.Printf("%s✘ %s%s\n", colorRed, msg, colorReset)
		return
	}
	fmt.Printf("ERR %s\n", msg)
}

// eventLine renders one alert record as a console line. Each record is a
// single line and only its first detection appears on it.
func eventLine(ev models.EventRecord) (string, bool) {
	if ev.Type != "alert" || len(ev.Detections) == 0 {
		return "", false
	}
	lead := ev.Detections[0]
	return fmt.Sprintf("alert     %s %s %.2f", ev.TS, lead.ClassName, lead.Conf), true
}

// Run attaches to a panel at baseURL and watches it until interrupted.
// When withStream is set the MJPEG overlay is consumed too and frame
// throughput is reported once a second.
func Run(baseURL string, withStream bool) error {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	notifier := &consoleNotifier{color: color}
	client := panel.NewClient(baseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var frameCount atomic.Int64

	ctrl := panel.NewController(client, notifier, panel.DefaultControllerConfig(), panel.ControllerHooks{
		OnDetectorStatus: func(st models.DetectorStatus) {
			fmt.Printf("detector  %s/%s\n", st.ActiveState, st.SubState)
		},
		OnHealth: func(h models.HealthStatus) {
			line := fmt.Sprintf("panel     %s (camera %s)", h.Status, h.Camera)
			if color && h.Status != "ok" {
				line = colorYellow + line + colorReset
			}
			fmt.Println(line)
		},
		OnNetworkStatus: func(nw models.NetworkStatus) {
			fmt.Printf("network   %s %s %s\n", nw.Mode, nw.Ifname, nw.SSID)
		},
		OnEvents: func(events []models.EventRecord) {
			for _, ev := range events {
				if line, ok := eventLine(ev); ok {
					fmt.Println(line)
				}
			}
		},
	})

	var stream *panel.StreamController
	if withStream {
		stream = panel.NewStreamController(client, panel.DefaultStreamConfig(), panel.StreamHooks{
			OnFrame: func(jpeg []byte) {
				frameCount.Add(1)
			},
			OnState: func(st panel.StreamState) {
				log.Printf("watch: stream %s", st)
			},
			OnFallback: func(visible bool) {
				if visible {
					log.Printf("watch: stream stalled, showing fallback")
				}
			},
		})
		stream.Attach()
		defer stream.Detach()

		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			var last int64
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					total := frameCount.Load()
					fmt.Printf("stream    %d fps (%d frames)\n", total-last, total)
					last = total
				}
			}
		}()
	}

	log.Printf("watch: connected to %s (ctrl-c to quit)", baseURL)
	ctrl.Run(ctx)
	return nil
}
