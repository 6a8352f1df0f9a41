package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type PanelSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

type CameraSettings struct {
	Binary    string `yaml:"binary"`
	MaxSide   int    `yaml:"max_side"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Retries   int    `yaml:"retries"`
	Quality   int    `yaml:"quality"`
}

type OverlaySettings struct {
	DetectionsFile string  `yaml:"detections_file"`
	MinConf        float64 `yaml:"min_conf"`
	TailBytes      int     `yaml:"tail_bytes"`
	MaxSide        int     `yaml:"max_side"`
	DetMaxAgeMs    int     `yaml:"det_max_age_ms"`
	OutputFPS      int     `yaml:"output_fps"`
	CaptureFPS     int     `yaml:"capture_fps"`
}

type GallerySettings struct {
	SnapsDir  string `yaml:"snaps_dir"`
	ThumbDir  string `yaml:"thumb_dir"`
	ThumbSide int    `yaml:"thumb_side"`
	DBPath    string `yaml:"db_path"`
}

type LEDSettings struct {
	GPIOPath string `yaml:"gpio_path"`
	Blinks   int    `yaml:"blinks"`
	PeriodMs int    `yaml:"period_ms"`
}

type DetectorSettings struct {
	Unit         string  `yaml:"unit"`
	PanelBaseURL string  `yaml:"panel_base_url"`
	PollSec      int     `yaml:"poll_sec"`
	Backend      string  `yaml:"backend"`
	SidecarURL   string  `yaml:"sidecar_url"`
	MinConf      float64 `yaml:"min_conf"`
	SaveDir      string  `yaml:"save_dir"`
	SaveMinConf  float64 `yaml:"save_min_conf"`
	AlertMinConf float64 `yaml:"alert_min_conf"`
	AlertConsec  int     `yaml:"alert_consec"`
	RetryBaseMs  int     `yaml:"retry_base_ms"`
	RetryJitter  float64 `yaml:"retry_jitter"`
	FailExtraMs  int     `yaml:"fail_extra_ms"`
	DedupEnabled bool    `yaml:"dedup_enabled"`
	DedupPHash   int     `yaml:"dedup_phash_threshold"`
}

type AppConfig struct {
	Panel    PanelSettings    `yaml:"panel"`
	Camera   CameraSettings   `yaml:"camera"`
	Overlay  OverlaySettings  `yaml:"overlay"`
	Gallery  GallerySettings  `yaml:"gallery"`
	LED      LEDSettings      `yaml:"led"`
	Detector DetectorSettings `yaml:"detector"`
}

// LoadConfig reads and parses two YAML files (panel config and detector config)
// and merges them into a single AppConfig struct. Either file may be absent;
// defaults cover everything.
func LoadConfig(panelYaml, detectorYaml string) (*AppConfig, error) {
	cfg := &AppConfig{}

	for _, path := range []string{panelYaml, detectorYaml} {
		if path == "" {
			continue
		}
		if err := loadYAML(path, cfg); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Panel.Host == "" {
		cfg.Panel.Host = "0.0.0.0"
	}
	if cfg.Panel.Port == 0 {
		cfg.Panel.Port = 8098
	}
	if cfg.Panel.DataDir == "" {
		cfg.Panel.DataDir = "data"
	}
	if cfg.Panel.LogLevel == "" {
		cfg.Panel.LogLevel = "info"
	}
	if cfg.Camera.Binary == "" {
		cfg.Camera.Binary = "/usr/bin/rpicam-still"
	}
	if cfg.Camera.MaxSide == 0 {
		cfg.Camera.MaxSide = 1280
	}
	if cfg.Camera.TimeoutMs == 0 {
		cfg.Camera.TimeoutMs = 800
	}
	if cfg.Camera.Retries == 0 {
		cfg.Camera.Retries = 2
	}
	if cfg.Camera.Quality == 0 {
		cfg.Camera.Quality = 85
	}
	if cfg.Overlay.DetectionsFile == "" {
		cfg.Overlay.DetectionsFile = "logs/detections.jsonl"
	}
	if cfg.Overlay.MinConf == 0 {
		cfg.Overlay.MinConf = 0.25
	}
	if cfg.Overlay.TailBytes == 0 {
		cfg.Overlay.TailBytes = 65536
	}
	if cfg.Overlay.MaxSide == 0 {
		cfg.Overlay.MaxSide = 640
	}
	if cfg.Overlay.DetMaxAgeMs == 0 {
		cfg.Overlay.DetMaxAgeMs = 4000
	}
	if cfg.Overlay.OutputFPS == 0 {
		cfg.Overlay.OutputFPS = 4
	}
	if cfg.Overlay.OutputFPS < 1 {
		cfg.Overlay.OutputFPS = 1
	}
	if cfg.Overlay.CaptureFPS == 0 {
		cfg.Overlay.CaptureFPS = 2
	}
	if cfg.Overlay.CaptureFPS < 1 {
		cfg.Overlay.CaptureFPS = 1
	}
	if cfg.Gallery.SnapsDir == "" {
		cfg.Gallery.SnapsDir = "snaps"
	}
	if cfg.Gallery.ThumbDir == "" {
		cfg.Gallery.ThumbDir = "thumbs"
	}
	if cfg.Gallery.ThumbSide == 0 {
		cfg.Gallery.ThumbSide = 240
	}
	if cfg.Gallery.DBPath == "" {
		cfg.Gallery.DBPath = "data/panel.db"
	}
	if cfg.LED.GPIOPath == "" {
		cfg.LED.GPIOPath = "/sys/class/leds/ACT/brightness"
	}
	if cfg.LED.Blinks == 0 {
		cfg.LED.Blinks = 3
	}
	if cfg.LED.PeriodMs == 0 {
		cfg.LED.PeriodMs = 150
	}
	if cfg.Detector.Unit == "" {
		cfg.Detector.Unit = "dd5ka-detector.service"
	}
	if cfg.Detector.PanelBaseURL == "" {
		cfg.Detector.PanelBaseURL = "http://127.0.0.1:8098"
	}
	if cfg.Detector.PollSec == 0 {
		cfg.Detector.PollSec = 5
	}
	if cfg.Detector.PollSec < 1 {
		cfg.Detector.PollSec = 1
	}
	if cfg.Detector.PollSec > 60 {
		cfg.Detector.PollSec = 60
	}
	if cfg.Detector.Backend == "" {
		cfg.Detector.Backend = "stub"
	}
	if cfg.Detector.MinConf == 0 {
		cfg.Detector.MinConf = 0.55
	}
	if cfg.Detector.SaveDir == "" {
		cfg.Detector.SaveDir = "snaps"
	}
	if cfg.Detector.SaveMinConf == 0 {
		cfg.Detector.SaveMinConf = 0.55
	}
	if cfg.Detector.AlertMinConf == 0 {
		cfg.Detector.AlertMinConf = 0.60
	}
	if cfg.Detector.AlertConsec == 0 {
		cfg.Detector.AlertConsec = 2
	}
	if cfg.Detector.RetryBaseMs == 0 {
		cfg.Detector.RetryBaseMs = 240
	}
	if cfg.Detector.RetryJitter == 0 {
		cfg.Detector.RetryJitter = 0.2
	}
	if cfg.Detector.FailExtraMs == 0 {
		cfg.Detector.FailExtraMs = 180
	}
	if cfg.Detector.DedupPHash == 0 {
		cfg.Detector.DedupPHash = 8
	}
}

// applyEnvOverrides honors the handful of environment knobs the deployed
// units pass instead of editing YAML.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("OVERLAY_DETECTIONS_FILE"); v != "" {
		cfg.Overlay.DetectionsFile = v
	}
	if v := os.Getenv("OVERLAY_MIN_CONF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Overlay.MinConf = f
		}
	}
	if v := os.Getenv("OVERLAY_FPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Overlay.OutputFPS = n
		}
	}
	if v := os.Getenv("PANEL_BASE_URL"); v != "" {
		cfg.Detector.PanelBaseURL = v
	}
	if v := os.Getenv("DETECTOR_POLL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 60 {
			cfg.Detector.PollSec = n
		}
	}
	if v := os.Getenv("DD5KA_BACKEND"); v != "" {
		cfg.Detector.Backend = v
	}
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
