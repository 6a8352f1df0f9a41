package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// SettingsHooks receive the loaded configuration objects for form population.
type SettingsHooks struct {
	OnPanelForm    func(values map[string]any)
	OnDetectorForm func(values map[string]any)
}

// SettingsController loads and saves the two configuration forms. Saving the
// detector settings chains a detector restart so the daemon picks them up.
type SettingsController struct {
	client   *Client
	notifier Notifier
	hooks    SettingsHooks
}

func NewSettingsController(client *Client, notifier Notifier, hooks SettingsHooks) *SettingsController {
	return &SettingsController{client: client, notifier: notifier, hooks: hooks}
}

// Load fetches both configuration objects and hands them to the forms. The
// two fetches are independent; one failing does not block the other.
func (s *SettingsController) Load(ctx context.Context) {
	if values, err := s.client.GetSettings(ctx, "panel"); err != nil {
		s.notifier.Error(fmt.Sprintf("loading panel settings: %v", err))
	} else if s.hooks.OnPanelForm != nil {
		s.hooks.OnPanelForm(values)
	}

	if values, err := s.client.GetSettings(ctx, "detector"); err != nil {
		s.notifier.Error(fmt.Sprintf("loading detector settings: %v", err))
	} else if s.hooks.OnDetectorForm != nil {
		s.hooks.OnDetectorForm(values)
	}
}

// SavePanel serializes the panel form and posts it. overlay_fps and
// overlay_min_conf arrive as form strings and must go out numeric.
func (s *SettingsController) SavePanel(ctx context.Context, form map[string]string) {
	values, err := coerceFields(form, map[string]string{
		"overlay_fps":      "int",
		"overlay_min_conf": "float",
	})
	if err != nil {
		s.notifier.Error(fmt.Sprintf("panel settings: %v", err))
		return
	}

	if err := s.client.SaveSettings(ctx, "panel", values); err != nil {
		s.notifier.Error(fmt.Sprintf("saving panel settings failed: %v", err))
		return
	}
	s.notifier.Success("panel settings saved")
}

// SaveDetector posts the detector form and, on success, restarts the detector
// as a dependent second request. Three outcomes: save failed (no restart),
// saved but restart failed, both succeeded.
func (s *SettingsController) SaveDetector(ctx context.Context, form map[string]string) {
	values, err := coerceFields(form, map[string]string{
		"min_conf": "float",
	})
	if err != nil {
		s.notifier.Error(fmt.Sprintf("detector settings: %v", err))
		return
	}

	if err := s.client.SaveSettings(ctx, "detector", values); err != nil {
		s.notifier.Error(fmt.Sprintf("saving detector settings failed: %v", err))
		return
	}

	if err := s.client.DetectorRestart(ctx); err != nil {
		s.notifier.Error(fmt.Sprintf("settings saved but restart failed: %s", restartReason(err)))
		return
	}
	s.notifier.Success("detector settings saved and detector restarted")
}

func restartReason(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Kind == ErrApplication {
		return reqErr.Message
	}
	return err.Error()
}

// coerceFields converts the named form fields to their numeric types, leaving
// everything else a string.
func coerceFields(form map[string]string, numeric map[string]string) (map[string]any, error) {
	values := make(map[string]any, len(form))
	for key, raw := range form {
		switch numeric[key] {
		case "int":
			v, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s must be an integer", key)
			}
			values[key] = v
		case "float":
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s must be a number", key)
			}
			values[key] = v
		default:
			values[key] = raw
		}
	}
	return values, nil
}
