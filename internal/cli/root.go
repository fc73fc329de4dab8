// Package cli provides the fitcoach-sweep command line.
package cli

import (
	"context"
	"fmt"

	"github.com/iago/fitcoach-back/internal/app"
	"github.com/iago/fitcoach-back/internal/config"
	"github.com/iago/fitcoach-back/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

type state struct {
	application *app.App
}

// NewRootCommand builds the command tree. Each invocation wires its own
// application so commands can run side by side in tests.
func NewRootCommand() *cobra.Command {
	st := &state{}

	root := &cobra.Command{
		Use:   "fitcoach-sweep",
		Short: "Recover stalled plan generation jobs",
		Long: `fitcoach-sweep finds plan jobs that stalled in PENDING or PROCESSING,
resumes the ones that are still live and expires the ones past their TTL.

Run it from cron with "run", or keep it resident with "loop".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := logging.New(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", cmd.Name()).Logger()

			application, err := app.New(cmdContext(cmd), cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			st.application = application
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.application != nil {
				st.application.Close()
				st.application = nil
			}
		},
	}

	root.AddCommand(newRunCommand(st), newLoopCommand(st), newExpireCommand(st), newPurgeCacheCommand(st))
	return root
}

// Execute runs the root command with ctx as the base context.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
