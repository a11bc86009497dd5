// Package domain contains the core domain entities and value objects for plotline.
//
// This package represents the innermost layer of the engine. It has no
// dependencies on infrastructure concerns (journal files, HTTP, logging) and
// contains only the job state model and its rules.
//
// # Entities
//
//   - [JobState]: one of the eleven lifecycle states of a plotting job
//   - [Transition]: an immutable record of a single accepted state change
//   - [Metadata]: the ordered key/value payload carried by a transition
//
// # Transition table
//
// The set of legal edges is fixed and lives in this package. [CanTransition]
// is the single authority for whether an edge exists. Terminal states
// (COMPLETED, ABORTED, FAILED) have no outgoing edges.
package domain
