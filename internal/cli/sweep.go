package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunCommand(st *state) *cobra.Command {
	var failOnErrors bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single sweep pass and print its report",
		Long: `Run a single sweep pass and print the report as JSON.

Examples:
  fitcoach-sweep run
  fitcoach-sweep run --fail-on-errors`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := st.application.Sweeper.Sweep(cmdContext(cmd))
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			if failOnErrors && report.Errors > 0 {
				return fmt.Errorf("sweep finished with %d job errors", report.Errors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnErrors, "fail-on-errors", false, "exit non-zero when any job could not be advanced")
	return cmd
}

func newLoopCommand(st *state) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Sweep on a fixed interval until interrupted",
		Long: `Sweep on a fixed interval until interrupted.

Examples:
  fitcoach-sweep loop
  fitcoach-sweep loop --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = st.application.Config.SweepInterval
			}
			err := st.application.Sweeper.Run(cmdContext(cmd), interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between passes (default SWEEP_INTERVAL)")
	return cmd
}

func newExpireCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <job-id>...",
		Short: "Expire specific non-terminal jobs",
		Long: `Expire moves each named PENDING or PROCESSING job to EXPIRED immediately,
ahead of its TTL. The sweep only expires jobs whose TTL has passed; use this
to cut short jobs that should not be generated at all. Terminal jobs are
left untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, jobID := range args {
				outcome, err := st.application.Orchestrator.Expire(cmdContext(cmd), jobID)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", jobID, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", jobID, outcome)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs could not be expired", failed, len(args))
			}
			return nil
		},
	}
}

func newPurgeCacheCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Delete expired entries from the durable result cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if st.application.CachePurger == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "durable cache is in-process, nothing to purge")
				return nil
			}
			removed, err := st.application.CachePurger.Purge(cmdContext(cmd))
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
			return nil
		},
	}
}
