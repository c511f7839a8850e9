package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/tui"
)

func registerStatusCmd(parent *cobra.Command, env *cli.Env) {
	var (
		watch    bool
		interval time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and project status",
		Long: `Show the daemon's registered projects with their commit state, lock
holder, draft branch size and offline queue depth. With --watch an
interactive dashboard refreshes until q is pressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			if watch {
				if !cli.IsTerminal(cmd.OutOrStdout()) {
					return fmt.Errorf("--watch needs an interactive terminal")
				}
				return tui.Run(client, interval)
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon not reachable (is `auxin daemon` running?): %w", err)
			}
			if asJSON {
				return cli.PrintJSON(cmd.OutOrStdout(), st)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), tui.RenderStatus(st, time.Now()))
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "open the live dashboard")
	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultRefreshInterval, "dashboard refresh interval")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	parent.AddCommand(cmd)
}
