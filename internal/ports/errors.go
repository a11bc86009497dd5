package ports

import "errors"

var (
	// ErrUnavailable is returned when a collaborator cannot be reached right now.
	ErrUnavailable = errors.New("ports: collaborator unavailable")

	// ErrNotFound is returned when a collaborator has no record for the request.
	ErrNotFound = errors.New("ports: record not found")
)
