package http

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bft-labs/plotline/internal/ports"
	"github.com/bft-labs/plotline/pkg/log"
)

// CameraProbe implements ports.CameraProbe with GET {base}/health.
// A 2xx response is healthy; a JSON body may refine it with {"healthy": bool}.
type CameraProbe struct {
	baseURL string
	client  ports.HTTPClient
	logger  log.Logger
}

// NewCameraProbe creates a probe for baseURL.
func NewCameraProbe(baseURL string, client ports.HTTPClient, logger log.Logger) *CameraProbe {
	if client == nil {
		client = NewClient()
	}
	return &CameraProbe{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  log.OrNoop(logger),
	}
}

// Healthy reports whether the camera answered its health check.
func (p *CameraProbe) Healthy(ctx context.Context) (bool, error) {
	body, err := getJSON(ctx, p.client, p.baseURL+"/health")
	if err != nil {
		if isUnavailable(err) {
			p.logger.Debug("camera unreachable", log.Err(err))
		}
		return false, err
	}
	var h struct {
		Healthy *bool `json:"healthy"`
	}
	if len(body) > 0 && json.Unmarshal(body, &h) == nil && h.Healthy != nil {
		return *h.Healthy, nil
	}
	return true, nil
}
