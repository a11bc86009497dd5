package ports

import "context"

// DeviceDriver is the subset of the plotter driver the lifecycle engine uses.
type DeviceDriver interface {
	// IsIdle reports whether the device is free to accept a new job.
	IsIdle(ctx context.Context, deviceID string) (bool, error)
}

// CameraProbe checks the plot-monitoring camera.
type CameraProbe interface {
	// Healthy reports whether the camera is streaming.
	Healthy(ctx context.Context) (bool, error)
}
