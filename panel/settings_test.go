package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nemezkarl-source/DD5KA/models"
)

func TestSettingsSavePanelCoercesNumericFields(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/settings/panel" && r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&received)
			json.NewEncoder(w).Encode(models.ActionResult{OK: true})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	notifier := &recordingNotifier{}
	sc := NewSettingsController(NewClient(srv.URL), notifier, SettingsHooks{})
	sc.SavePanel(context.Background(), map[string]string{
		"overlay_fps":      "4",
		"overlay_min_conf": "0.35",
		"theme":            "dark",
	})

	if received == nil {
		t.Fatal("no settings posted")
	}
	// JSON numbers decode as float64; the point is they were not strings.
	if v, ok := received["overlay_fps"].(float64); !ok || v != 4 {
		t.Fatalf("overlay_fps = %#v, want numeric 4", received["overlay_fps"])
	}
	if v, ok := received["overlay_min_conf"].(float64); !ok || v != 0.35 {
		t.Fatalf("overlay_min_conf = %#v, want numeric 0.35", received["overlay_min_conf"])
	}
	if v, ok := received["theme"].(string); !ok || v != "dark" {
		t.Fatalf("theme = %#v, want string passthrough", received["theme"])
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.messages) != 1 {
		t.Fatalf("success notices = %d, want 1", len(notifier.messages))
	}
}

func TestSettingsSavePanelRejectsBadNumber(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		json.NewEncoder(w).Encode(models.ActionResult{OK: true})
	}))
	defer srv.Close()

	notifier := &recordingNotifier{}
	sc := NewSettingsController(NewClient(srv.URL), notifier, SettingsHooks{})
	sc.SavePanel(context.Background(), map[string]string{"overlay_fps": "fast"})

	if posted {
		t.Fatal("invalid form was posted")
	}
	if msg := notifier.lastError(t); !strings.Contains(msg, "overlay_fps") {
		t.Fatalf("error notice = %q, want the offending field named", msg)
	}
}

// saveDetectorServer returns a server whose save and restart endpoints answer
// with the given results.
func saveDetectorServer(saveOK bool, restart models.ActionResult) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/settings/detector":
			res := models.ActionResult{OK: saveOK}
			if !saveOK {
				res.Error = "bad value"
			}
			json.NewEncoder(w).Encode(res)
		case "/api/detector/restart":
			json.NewEncoder(w).Encode(restart)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSettingsSaveDetectorBothSucceed(t *testing.T) {
	srv := saveDetectorServer(true, models.ActionResult{OK: true})
	defer srv.Close()

	notifier := &recordingNotifier{}
	sc := NewSettingsController(NewClient(srv.URL), notifier, SettingsHooks{})
	sc.SaveDetector(context.Background(), map[string]string{"min_conf": "0.5"})

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.errs) != 0 {
		t.Fatalf("error notices = %v, want none", notifier.errs)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "restarted") {
		t.Fatalf("success notices = %v, want saved-and-restarted", notifier.messages)
	}
}

func TestSettingsSaveDetectorRestartFails(t *testing.T) {
	srv := saveDetectorServer(true, models.ActionResult{OK: false, Error: "unit stuck"})
	defer srv.Close()

	notifier := &recordingNotifier{}
	sc := NewSettingsController(NewClient(srv.URL), notifier, SettingsHooks{})
	sc.SaveDetector(context.Background(), map[string]string{"min_conf": "0.5"})

	msg := notifier.lastError(t)
	if !strings.Contains(msg, "settings saved but restart failed") {
		t.Fatalf("error notice = %q, want the saved-but-restart-failed outcome", msg)
	}
	if !strings.Contains(msg, "unit stuck") {
		t.Fatalf("error notice = %q, want the restart reason", msg)
	}
}

func TestSettingsSaveDetectorSaveFailsSkipsRestart(t *testing.T) {
	restartHit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/settings/detector":
			json.NewEncoder(w).Encode(models.ActionResult{OK: false, Error: "bad value"})
		case "/api/detector/restart":
			restartHit = true
			json.NewEncoder(w).Encode(models.ActionResult{OK: true})
		}
	}))
	defer srv.Close()

	notifier := &recordingNotifier{}
	sc := NewSettingsController(NewClient(srv.URL), notifier, SettingsHooks{})
	sc.SaveDetector(context.Background(), map[string]string{"min_conf": "0.5"})

	if restartHit {
		t.Fatal("restart issued after a failed save")
	}
	if msg := notifier.lastError(t); !strings.Contains(msg, "saving detector settings failed") {
		t.Fatalf("error notice = %q", msg)
	}
}

func TestSettingsLoadPopulatesForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/settings/panel":
			json.NewEncoder(w).Encode(map[string]any{"overlay_fps": 4})
		case "/api/settings/detector":
			json.NewEncoder(w).Encode(map[string]any{"min_conf": 0.5})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var panelForm, detectorForm map[string]any
	hooks := SettingsHooks{
		OnPanelForm:    func(v map[string]any) { panelForm = v },
		OnDetectorForm: func(v map[string]any) { detectorForm = v },
	}

	sc := NewSettingsController(NewClient(srv.URL), &recordingNotifier{}, hooks)
	sc.Load(context.Background())

	if panelForm == nil || panelForm["overlay_fps"] != float64(4) {
		t.Fatalf("panel form = %#v", panelForm)
	}
	if detectorForm == nil || detectorForm["min_conf"] != 0.5 {
		t.Fatalf("detector form = %#v", detectorForm)
	}
}
