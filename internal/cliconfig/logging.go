package cliconfig

import (
	"io"

	"github.com/bft-labs/plotline/pkg/log"
)

// NewLogger builds the process logger from cfg. A nil out means stderr.
func NewLogger(cfg Config, out io.Writer) log.Logger {
	return log.NewZerologLogger(log.Options{
		Level:  cfg.LogLevel,
		JSON:   cfg.LogJSON,
		Output: out,
	})
}
