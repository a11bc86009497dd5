package domain

import "errors"

// Domain errors represent error conditions in the plotline domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrInvalidTransition is returned when the requested edge is not in the table.
	ErrInvalidTransition = errors.New("plotline: invalid transition")

	// ErrGuardBlocked is returned when at least one applicable guard failed.
	ErrGuardBlocked = errors.New("plotline: transition blocked by guard")

	// ErrTerminalState is returned when a job in a terminal state is asked to move.
	ErrTerminalState = errors.New("plotline: job is in a terminal state")

	// ErrJournalCorrupt is returned when a journal line cannot be decoded.
	ErrJournalCorrupt = errors.New("plotline: journal corrupt")

	// ErrJobNotFound is returned when a job has no live instance and no readable journal.
	ErrJobNotFound = errors.New("plotline: job not found")

	// ErrJobExists is returned when creating a job whose journal already exists.
	ErrJobExists = errors.New("plotline: job already exists")

	// ErrAlreadyRegistered is returned when a second live instance is registered for a job.
	ErrAlreadyRegistered = errors.New("plotline: job already registered")

	// ErrShutdown is returned once the process-wide shutdown has run.
	ErrShutdown = errors.New("plotline: shutting down")

	// ErrAlreadyRunning is returned when Start() is called on a running engine.
	ErrAlreadyRunning = errors.New("plotline: engine already running")

	// ErrNotRunning is returned when the engine is used before Start() or after Stop().
	ErrNotRunning = errors.New("plotline: engine not running")

	// ErrShutdownTimeout is returned when pending hooks outlive the shutdown timeout.
	ErrShutdownTimeout = errors.New("plotline: shutdown timeout exceeded")
)
