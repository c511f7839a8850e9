// Package cmd assembles the auxin command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/cmd/lock"
	"github.com/jbacus/auxin/internal/cmd/project"
	"github.com/jbacus/auxin/internal/cmd/queue"
)

// NewRootCmd builds the full command tree.
func NewRootCmd(version string) *cobra.Command {
	env := cli.NewEnv(version)

	root := &cobra.Command{
		Use:   "auxin",
		Short: "Lock-coordinated version control for creative projects",
		Long: `auxin coordinates edits to binary-heavy creative projects (DAW sessions,
3D scenes, CAD models) between collaborators. A central lock service grants
one writer per project, a background daemon snapshots changes to a draft
branch, and work made offline is queued and replayed when the network
returns.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return env.Close()
		},
	}

	root.PersistentFlags().StringVarP(&env.ConfigFile, "config", "c", "", "config file (default is $HOME/.config/auxin/config.yaml)")
	root.PersistentFlags().StringVar(&env.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	registerServeCmd(root, env)
	registerDaemonCmd(root, env)
	registerCommitCmd(root, env)
	registerConflictCmd(root, env)
	registerIgnoreCmd(root, env)
	registerActivityCmd(root, env)
	registerStatusCmd(root, env)
	registerConfigCmd(root, env)
	lock.Register(root, env)
	project.Register(root, env)
	queue.Register(root, env)

	return root
}

// Execute runs the command tree.
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}
