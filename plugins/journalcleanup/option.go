package journalcleanup

import "github.com/bft-labs/plotline/internal/app"

// WithJournalCleanup returns an engine Option that trims journals on a schedule.
//
// Usage:
//
//	e, err := app.New(cfg,
//	    journalcleanup.WithJournalCleanup(journalcleanup.Config{
//	        Schedule:  "0 3 * * *",
//	        Keep:      500,
//	        Threshold: 1000,
//	    }),
//	)
func WithJournalCleanup(cfg Config) app.Option {
	return app.WithPlugin(New(cfg))
}

// WithDefaultJournalCleanup enables daily cleanup with default limits.
func WithDefaultJournalCleanup() app.Option {
	return WithJournalCleanup(DefaultConfig())
}
