// Package guard implements named, read-only precondition checks that gate
// state transitions.
//
// A [Guard] inspects the world around a job (device, camera, catalog,
// checklist) and returns a [Result] with status PASS, FAIL or SOFT_FAIL.
// Guards are added to a [Registry] tagged with the target states they apply
// to. [Registry.Evaluate] runs the applicable guards concurrently, each under
// its own timeout, and allows the transition when no result is FAIL.
// SOFT_FAIL results are advisory and never block.
package guard
