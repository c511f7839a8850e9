// Package queue provides the `auxin queue` commands for inspecting and
// draining offline queues.
package queue

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
)

// Register adds the queue command group to the given parent command.
func Register(parent *cobra.Command, env *cli.Env) {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay operations deferred while offline",
	}
	queueCmd.AddCommand(newListCmd(env), newFlushCmd(env), newClearCmd(env))
	parent.AddCommand(queueCmd)
}
