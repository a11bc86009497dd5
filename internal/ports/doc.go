// Package ports defines the interfaces (ports) that connect the lifecycle
// engine to the systems around it.
//
// Ports are the boundaries between the engine and the outside world. They
// define what the engine needs from external systems without specifying how
// those needs are fulfilled.
//
// # Port Interfaces
//
//   - [DeviceDriver]: reports whether a plotter is idle
//   - [CameraProbe]: reports whether the monitoring camera is reachable
//   - [CatalogStore]: read-only paper, pen and job metadata
//   - [ChecklistStore]: pre-flight manual checklist completion
//   - [StatisticsService]: records job events for aggregation
//   - [Broadcaster]: pushes live messages to subscribers
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// Guards, hooks and the engine depend only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// implementations (HTTP, SQLite, Redis).
//
// Adapters report expected outages with [ErrUnavailable] and absent records
// with [ErrNotFound] so that callers can degrade instead of failing.
package ports
