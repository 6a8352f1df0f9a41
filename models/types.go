package models

// Detection is a single detected object within an event record.
type Detection struct {
	ClassID   int       `json:"class_id,omitempty"`
	ClassName string    `json:"class_name"`
	Conf      float64   `json:"conf"`
	BBoxXYXY  []float64 `json:"bbox_xyxy"`
}

// ImageInfo describes the frame an event was produced from.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Path   string `json:"path,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
}

// EventRecord is one line of the detections JSONL log. Type is one of
// "detection", "heartbeat" or "alert".
type EventRecord struct {
	ID         string      `json:"id,omitempty"`
	TS         string      `json:"ts"`
	Type       string      `json:"type"`
	Backend    string      `json:"backend,omitempty"`
	OK         *bool       `json:"ok,omitempty"`
	Error      string      `json:"error,omitempty"`
	Image      *ImageInfo  `json:"image,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
	Criteria   *Criteria   `json:"criteria,omitempty"`
}

// Criteria records the debounce thresholds an alert was fired under.
type Criteria struct {
	Consec  int     `json:"consec"`
	IoUMin  float64 `json:"iou_min"`
	MinConf float64 `json:"min_conf"`
}

// ActionResult is the response body of every mutating control endpoint.
type ActionResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DetectorStatus reports the systemd state of the detector unit.
type DetectorStatus struct {
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state,omitempty"`
}

// HealthStatus reports subsystem health. Camera is "ok", "busy" or "error".
type HealthStatus struct {
	Status string `json:"status"`
	Camera string `json:"camera"`
}

// LEDStatus is the result of the most recent LED self-test.
type LEDStatus struct {
	OK     bool   `json:"ok"`
	Tested bool   `json:"tested,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NetworkStatus is the NetworkManager view of the primary interface.
type NetworkStatus struct {
	Mode      string `json:"mode"`
	Ifname    string `json:"ifname"`
	SSID      string `json:"ssid"`
	Connected bool   `json:"connected"`
}

// GalleryEntry is one saved snapshot in the gallery index.
type GalleryEntry struct {
	File  string `json:"file"`
	TS    int64  `json:"ts"`
	Size  int64  `json:"size,omitempty"`
	Human string `json:"size_human,omitempty"`
}

// GalleryIndex is an offset-paginated slice of the gallery.
type GalleryIndex struct {
	Files  []GalleryEntry `json:"files"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
}

// EventsResponse wraps the recent-events endpoint body.
type EventsResponse struct {
	Events []EventRecord `json:"events"`
}
