// Package hooks runs configured side effects when a job enters a state.
//
// Hooks are declared in a TOML file, one array of tables per state:
//
//	default_timeout = "30s"
//
//	[[state.PLOTTING]]
//	name    = "notify"
//	command = "notify-send plot {job_id} {from_state} {to_state}"
//	timeout = "5s"
//
// The file is validated once into a [Table]. Commands are split on
// whitespace and executed without a shell after placeholder substitution.
// A hook failure is logged and reported in its [Result] but never affects
// the transition that triggered it or the hooks that follow.
//
// The [Dispatcher] is also the bridge to live observers: every transition it
// is told about is published as a job_state_change message on the "jobs"
// broadcast channel.
package hooks
