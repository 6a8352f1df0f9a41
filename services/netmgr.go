package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

// NetworkManager reads connection state from nmcli. The panel exposes it so
// the operator can see whether the unit is on wifi or its fallback hotspot.
type NetworkManager struct {
	// runner is swapped in tests.
	runner func(ctx context.Context, args ...string) (string, error)
}

func NewNetworkManager() *NetworkManager {
	return &NetworkManager{runner: runNmcli}
}

func runNmcli(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nmcli", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("nmcli %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// Status reports mode/ifname/ssid/connected for the first active device.
// Hotspot connections (shared ipv4) report mode "ap", everything else "infra".
func (n *NetworkManager) Status(ctx context.Context) (models.NetworkStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := n.runner(ctx, "-t", "-f", "DEVICE,TYPE,STATE,CONNECTION", "device", "status")
	if err != nil {
		return models.NetworkStatus{}, err
	}

	st := models.NetworkStatus{Mode: "none"}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		device, devType, state, conn := fields[0], fields[1], fields[2], fields[3]
		if devType == "loopback" || !strings.HasPrefix(state, "connected") {
			continue
		}

		st.Ifname = device
		st.Connected = true
		switch devType {
		case "wifi":
			st.Mode = "infra"
			st.SSID = conn
			if isHotspot(conn) {
				st.Mode = "ap"
			}
		case "ethernet":
			st.Mode = "ethernet"
		default:
			st.Mode = devType
		}
		break
	}
	return st, nil
}

func isHotspot(connection string) bool {
	c := strings.ToLower(connection)
	return strings.Contains(c, "hotspot") || strings.Contains(c, "accesspoint") || strings.Contains(c, "ap-")
}
