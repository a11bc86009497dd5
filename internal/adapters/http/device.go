// Package http implements collaborator ports over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bft-labs/plotline/internal/ports"
	"github.com/bft-labs/plotline/pkg/log"
)

// DefaultTimeout is used when no HTTP client is supplied.
const DefaultTimeout = 5 * time.Second

// NewClient returns an *http.Client with the default timeout.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// DeviceClient implements ports.DeviceDriver against a device bridge that
// serves GET {base}/devices/{id}/status -> {"idle": bool}.
type DeviceClient struct {
	baseURL string
	client  ports.HTTPClient
	logger  log.Logger
}

// NewDeviceClient creates a device client for baseURL.
func NewDeviceClient(baseURL string, client ports.HTTPClient, logger log.Logger) *DeviceClient {
	if client == nil {
		client = NewClient()
	}
	return &DeviceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  log.OrNoop(logger),
	}
}

type deviceStatus struct {
	Idle  *bool  `json:"idle"`
	State string `json:"state,omitempty"`
}

// IsIdle asks the bridge whether deviceID can take a job.
func (c *DeviceClient) IsIdle(ctx context.Context, deviceID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/devices/%s/status", c.baseURL, url.PathEscape(deviceID))
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return false, err
	}
	var st deviceStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return false, fmt.Errorf("decode device status: %w", err)
	}
	if st.Idle == nil {
		return false, fmt.Errorf("device status: missing idle field")
	}
	c.logger.Debug("device status",
		log.String("device_id", deviceID),
		log.Bool("idle", *st.Idle),
		log.String("state", st.State),
	)
	return *st.Idle, nil
}

func (c *DeviceClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	return getJSON(ctx, c.client, endpoint)
}

// getJSON performs a GET and maps transport failures and 5xx to ports.ErrUnavailable.
func getJSON(ctx context.Context, client ports.HTTPClient, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ports.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, endpoint)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ports.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// isUnavailable reports whether err is an expected outage.
func isUnavailable(err error) bool {
	return errors.Is(err, ports.ErrUnavailable)
}
