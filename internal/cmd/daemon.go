package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/daemon"
)

func registerDaemonCmd(parent *cobra.Command, env *cli.Env) {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background daemon",
		Long: `Run the background daemon in the foreground. It watches registered
projects, commits settled changes to the draft branch while the lock is
held, heartbeats held locks and replays the offline queue.

SIGTERM, SIGINT and SIGHUP force a best-effort commit of every project
before the daemon exits (SIGHUP commits without exiting).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			logger, err := env.Logger(true)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, daemon.Options{
				Version: env.Version,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			// Signals are owned by the daemon's power hook.
			return d.Run(cmd.Context())
		},
	}
	parent.AddCommand(cmd)
}
