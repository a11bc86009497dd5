package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/recovery"
	"github.com/bft-labs/plotline/pkg/log"
)

// coordinator opens the journal without an engine. These commands expect
// the server to be stopped.
func (c *cli) coordinator() *recovery.Coordinator {
	store := journal.NewStore(c.cfg.JobsDir, journal.WithLogger(c.logger))
	return recovery.NewCoordinator(store, recovery.WithLogger(c.logger))
}

func newRecoverCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay journals and repair jobs interrupted mid-plot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := c.coordinator().RecoverAll(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(rep)
		},
	}
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's state from its journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := c.coordinator().JobStatus(args[0])
			if err != nil {
				return err
			}
			return c.printJSON(st)
		},
	}
}

func newResumableCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resumable",
		Short: "List jobs that are not in a terminal state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ids, err := c.coordinator().ResumableJobs()
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			return c.printJSON(ids)
		},
	}
}

func newJournalCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Journal maintenance",
	}

	var keep int
	cleanup := &cobra.Command{
		Use:   "cleanup [job-id...]",
		Short: "Trim journals to their most recent entries",
		Long: "Trim the named journals to --keep entries. With no job ids, every " +
			"journal longer than --journal-threshold is trimmed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = c.cfg.JournalKeep
			}
			if keep <= 0 {
				return fmt.Errorf("keep must be positive")
			}
			store := journal.NewStore(c.cfg.JobsDir, journal.WithLogger(c.logger))

			ids := args
			threshold := 0
			if len(ids) == 0 {
				all, err := store.JobIDs()
				if err != nil {
					return err
				}
				ids = all
				threshold = c.cfg.JournalThreshold
			}

			removed := map[string]int{}
			for _, id := range ids {
				if threshold > 0 {
					n, err := store.Count(id)
					if err != nil {
						c.logger.Warn("journal count failed", log.String("job_id", id), log.Err(err))
						continue
					}
					if n <= threshold {
						continue
					}
				}
				n, err := store.Cleanup(id, keep)
				if err != nil {
					return fmt.Errorf("cleanup %s: %w", id, err)
				}
				removed[id] = n
			}

			sorted := make([]string, 0, len(removed))
			for id := range removed {
				sorted = append(sorted, id)
			}
			sort.Strings(sorted)
			for _, id := range sorted {
				c.logger.Info("journal trimmed", log.String("job_id", id), log.Int("removed", removed[id]))
			}
			return c.printJSON(removed)
		},
	}
	cleanup.Flags().IntVar(&keep, "keep", 0, "entries to keep (default: --journal-keep)")
	cmd.AddCommand(cleanup)
	return cmd
}
