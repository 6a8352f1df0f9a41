package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nemezkarl-source/DD5KA/models"
)

// InferenceResult is the sidecar's answer for one frame.
type InferenceResult struct {
	Image      models.ImageInfo   `json:"image"`
	Detections []models.Detection `json:"detections"`
	Error      string             `json:"error,omitempty"`
}

// InferenceClient talks to the YOLO sidecar over HTTP. The model itself lives
// in the sidecar; the daemon only ships JPEG frames and reads back detections.
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewInferenceClient(baseURL string) *InferenceClient {
	return &InferenceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // CPU inference on a Pi is slow
		},
	}
}

func (c *InferenceClient) HealthCheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *InferenceClient) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := c.HealthCheck(); err == nil {
			return nil
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("inference sidecar not ready after %s", timeout)
}

// Infer runs the sidecar model over one JPEG frame.
func (c *InferenceClient) Infer(jpegData []byte, minConf float64) (*InferenceResult, error) {
	url := fmt.Sprintf("%s/infer?min_conf=%g", c.baseURL, minConf)
	resp, err := c.httpClient.Post(url, "image/jpeg", bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("infer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("infer returned %d: %s", resp.StatusCode, respBody)
	}

	var result InferenceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding infer response: %w", err)
	}
	return &result, nil
}
