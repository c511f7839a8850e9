// Package lock provides the `auxin lock` commands.
package lock

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
)

// Register adds the lock command group to the given parent command.
func Register(parent *cobra.Command, env *cli.Env) {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, release and inspect project locks",
		Long: `Acquire, release and inspect the exclusive edit lock of a project on the
lock service. The project defaults to the working directory; its repository
name is derived from the directory name unless --repo is given.`,
	}
	lockCmd.AddCommand(
		newAcquireCmd(env),
		newReleaseCmd(env),
		newHeartbeatCmd(env),
		newStatusCmd(env),
		newBreakCmd(env),
	)
	parent.AddCommand(lockCmd)
}
