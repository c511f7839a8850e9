// Package project provides the `auxin project` commands, which manage the
// daemon's watched projects.
package project

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
)

// Register adds the project command group to the given parent command.
func Register(parent *cobra.Command, env *cli.Env) {
	projectCmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Manage the projects the daemon watches",
	}
	projectCmd.AddCommand(newAddCmd(env), newRemoveCmd(env), newListCmd(env))
	parent.AddCommand(projectCmd)
}
