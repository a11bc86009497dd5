// Package recovery owns the process-wide registry of live job machines and
// everything that happens across process boundaries: replaying journals on
// startup, repairing jobs interrupted by an emergency shutdown, reporting
// status, and forcing unsafe jobs to a safe state when the process exits.
//
// A [Coordinator] is created by the process entry point and injected into
// whatever needs it. [Coordinator.ShutdownAll] runs at most once no matter
// how many signals or exit paths reach it.
package recovery
