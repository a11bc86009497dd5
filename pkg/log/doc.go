// Package log provides the structured logging abstraction used across plotline.
//
// Components never import a logging library directly. They accept a Logger
// and attach structured fields such as the job id or the guard name:
//
//	logger.Info("state transition",
//	    log.String("job_id", jobID),
//	    log.String("from", string(from)),
//	    log.String("to", string(to)),
//	)
//
// A zerolog-backed implementation is provided for the process entry point and
// a no-op logger for tests:
//
//	logger := log.NewZerologLogger(log.Options{Level: "debug", JSON: true})
//	logger := log.NewNoopLogger()
//
// Use With to derive a child logger that carries fields on every message:
//
//	jobLog := logger.With(log.String("job_id", jobID))
package log
