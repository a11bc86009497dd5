// Package fsm holds the per-job state machine.
//
// A [Machine] owns one job's current state and its ordered transition
// history. Every requested change is checked against the static table in
// package domain, then against the guards registered for the target state.
// Accepted transitions are journaled before they are committed in memory,
// so a transition either fully happens (journal and state) or has no
// visible effect. Notifiers run after the commit and never under the
// machine lock.
//
// A job is driven by one caller at a time. The machine still guards its
// fields with a mutex so status readers on other goroutines see a
// consistent snapshot.
package fsm
