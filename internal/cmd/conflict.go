package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/conflict"
	"github.com/jbacus/auxin/internal/vcs"
)

var errDiverged = errors.New("history diverged; resolve before consolidating")

func registerConflictCmd(parent *cobra.Command, env *cli.Env) {
	conflictCmd := &cobra.Command{
		Use:   "conflict",
		Short: "Inspect local history against the remote",
	}

	var (
		branch  string
		noFetch bool
		asJSON  bool
	)
	checkCmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Compare a branch with its remote counterpart",
		Long: `Fetch and compare a project branch with the remote. Reports whether the
branch is up to date, can fast-forward, or has diverged. Diverged history
exits non-zero; auxin never merges binary project files.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			logger, err := env.Logger(false)
			if err != nil {
				return err
			}
			root, _, err := cli.ResolveProject(args, "")
			if err != nil {
				return err
			}
			if branch == "" {
				branch = cfg.Draft.MainBranch
			}
			detector := conflict.New(conflict.Options{
				Engine:    vcs.NewGitEngine(root, vcs.GitOptions{Binary: cfg.VCS.Binary, Remote: cfg.VCS.Remote}),
				Logger:    logger,
				SkipFetch: noFetch,
			})
			res, err := detector.Check(cmd.Context(), branch)
			if err != nil {
				return err
			}

			if asJSON {
				if err := cli.PrintJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				p := cli.NewPrinter(cmd.OutOrStdout())
				label := p.Success(string(res.Status))
				switch res.Status {
				case conflict.StatusFastForward:
					label = p.Warn(string(res.Status))
				case conflict.StatusDiverged:
					label = p.Err(string(res.Status))
				}
				p.Printf("%s %s: %s\n", p.Bold(branch), label, res.Summary())
			}
			if res.Status == conflict.StatusDiverged {
				return errDiverged
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&branch, "branch", "", "branch to compare (default: draft.main_branch)")
	checkCmd.Flags().BoolVar(&noFetch, "no-fetch", false, "compare against the last fetched remote state")
	checkCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	conflictCmd.AddCommand(checkCmd)
	parent.AddCommand(conflictCmd)
}
