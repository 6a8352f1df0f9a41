package services

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nemezkarl-source/DD5KA/config"
)

type settingDef struct {
	Key     string
	Type    string // "string", "float", "int", "bool"
	Default string
	Min     float64
	Max     float64
}

// Two namespaces, matching the two panel forms: panel.* drives the overlay
// and gallery, detector.* is handed to the detector daemon on restart.
var settingDefs = []settingDef{
	{"panel.overlay_fps", "int", "4", 1, 30},
	{"panel.overlay_min_conf", "float", "0.25", 0.0, 1.0},
	{"panel.gallery_page_size", "int", "60", 1, 500},
	{"panel.theme", "string", "dark", 0, 0},
	{"detector.min_conf", "float", "0.55", 0.0, 1.0},
	{"detector.class_allow", "string", "drone,dron,uav", 0, 0},
	{"detector.backend", "string", "stub", 0, 0},
	{"detector.save_snapshots", "bool", "true", 0, 0},
}

// SettingsService is a typed key-value store backed by sqlite with an
// in-memory cache. Unknown keys and out-of-range values are rejected.
type SettingsService struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]string
	defs  map[string]settingDef
}

func NewSettingsService(storage *Storage, cfg *config.AppConfig) *SettingsService {
	s := &SettingsService{
		db:    storage.DB(),
		cache: make(map[string]string),
		defs:  make(map[string]settingDef),
	}

	for _, d := range settingDefs {
		s.defs[d.Key] = d
		s.cache[d.Key] = d.Default
	}

	// Config file values take precedence over built-in defaults.
	s.cache["panel.overlay_fps"] = strconv.Itoa(cfg.Overlay.OutputFPS)
	s.cache["panel.overlay_min_conf"] = strconv.FormatFloat(cfg.Overlay.MinConf, 'f', -1, 64)
	s.cache["detector.min_conf"] = strconv.FormatFloat(cfg.Detector.MinConf, 'f', -1, 64)
	s.cache["detector.backend"] = cfg.Detector.Backend

	// Seed DB with defaults for any keys not yet persisted, then load all.
	s.seedDefaults()
	s.loadFromDB()

	return s
}

func (s *SettingsService) seedDefaults() {
	for key, val := range s.cache {
		s.db.Exec(
			`INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))`,
			key, val,
		)
	}
}

func (s *SettingsService) loadFromDB() {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		if _, ok := s.defs[key]; ok {
			s.cache[key] = value
		}
	}
}

func (s *SettingsService) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key]
}

func (s *SettingsService) GetFloat64(key string) float64 {
	v, _ := strconv.ParseFloat(s.Get(key), 64)
	return v
}

func (s *SettingsService) GetInt(key string) int {
	v, _ := strconv.Atoi(s.Get(key))
	return v
}

func (s *SettingsService) GetBool(key string) bool {
	v, _ := strconv.ParseBool(s.Get(key))
	return v
}

func (s *SettingsService) Set(key string, value any) error {
	def, ok := s.defs[key]
	if !ok {
		return fmt.Errorf("unknown setting: %s", key)
	}

	strVal, err := s.validate(def, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strVal,
	)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = strVal
	s.mu.Unlock()

	return nil
}

// Namespace returns all settings under the given prefix ("panel" or
// "detector") as a flat typed object, keys stripped of the prefix.
func (s *SettingsService) Namespace(ns string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := ns + "."
	result := make(map[string]any)
	for key, def := range s.defs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		result[strings.TrimPrefix(key, prefix)] = typedValue(def.Type, s.cache[key])
	}
	return result
}

// SetNamespace applies a flat object to the given namespace. Returns one
// error per rejected key.
func (s *SettingsService) SetNamespace(ns string, values map[string]any) []error {
	var errs []error
	for key, value := range values {
		if err := s.Set(ns+"."+key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func typedValue(typ, raw string) any {
	switch typ {
	case "float":
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	case "int":
		v, _ := strconv.Atoi(raw)
		return v
	case "bool":
		v, _ := strconv.ParseBool(raw)
		return v
	default:
		return raw
	}
}

func (s *SettingsService) validate(def settingDef, value any) (string, error) {
	switch def.Type {
	case "float":
		v, err := toFloat64(value)
		if err != nil {
			return "", fmt.Errorf("expected float: %w", err)
		}
		if v < def.Min || v > def.Max {
			return "", fmt.Errorf("must be between %g and %g", def.Min, def.Max)
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case "int":
		v, err := toInt(value)
		if err != nil {
			return "", fmt.Errorf("expected int: %w", err)
		}
		if float64(v) < def.Min || float64(v) > def.Max {
			return "", fmt.Errorf("must be between %d and %d", int(def.Min), int(def.Max))
		}
		return strconv.Itoa(v), nil
	case "bool":
		v, err := toBool(value)
		if err != nil {
			return "", fmt.Errorf("expected bool: %w", err)
		}
		return strconv.FormatBool(v), nil
	case "string":
		str, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected string")
		}
		return str, nil
	default:
		return "", fmt.Errorf("unknown type %s", def.Type)
	}
}

// Type conversion helpers for JSON values (which come as float64, bool, or string)

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case int:
		return val, nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(val)
	case float64:
		return val != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}
