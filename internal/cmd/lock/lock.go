package lock

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/conflict"
	auxerrors "github.com/jbacus/auxin/internal/errors"
	"github.com/jbacus/auxin/internal/lockapi"
	"github.com/jbacus/auxin/internal/vcs"
)

func newAcquireCmd(env *cli.Env) *cobra.Command {
	var (
		repo    string
		noCheck bool
	)
	cmd := &cobra.Command{
		Use:   "acquire [path]",
		Short: "Take the exclusive edit lock",
		Long: `Take the exclusive edit lock. When another collaborator holds it, their
name and the lock's expiry are reported and nothing changes.

The draft and main branches are first compared with the remote and the lock
is refused when either has diverged, since edits made under it could not be
consolidated automatically. --no-check skips the comparison.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			if !noCheck {
				if err := guardHistory(cmd, env, root); err != nil {
					return err
				}
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			rec, err := client.Acquire(cmd.Context())
			if err != nil {
				return describe(err)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s until %s\n", p.Success("locked"), rec.RepositoryID, rec.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "take the lock without comparing history with the remote")
	return cmd
}

func newReleaseCmd(env *cli.Env) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "release [path]",
		Short: "Release the edit lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			if err := client.Release(cmd.Context()); err != nil {
				return describe(err)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s\n", p.Success("released"), client.RepositoryID())
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	return cmd
}

func newHeartbeatCmd(env *cli.Env) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "heartbeat [path]",
		Short: "Extend the held lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			rec, err := client.Heartbeat(cmd.Context())
			if err != nil {
				return describe(err)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s until %s\n", p.Success("extended"), rec.RepositoryID, rec.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	return cmd
}

func newStatusCmd(env *cli.Env) *cobra.Command {
	var (
		repo   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show who holds the lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			rec, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return cli.PrintJSON(cmd.OutOrStdout(), lockapi.StatusResponse{Locked: rec != nil, Lock: rec})
			}
			printStatus(cmd.OutOrStdout(), client.RepositoryID(), client.Holder(), rec, time.Now())
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the lock record as JSON")
	return cmd
}

func newBreakCmd(env *cli.Env) *cobra.Command {
	var (
		repo string
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "break [path]",
		Short: "Revoke another holder's lock and take it",
		Long: `Revoke the current lock, whoever holds it, and take it. The previous
holder's token stops working and the break is recorded in the activity log.
Requires --yes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("breaking a lock discards the holder's claim; rerun with --yes")
			}
			_, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			rec, err := client.ForceBreak(cmd.Context())
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s, now held by %s\n", p.Warn("broke lock on"), rec.RepositoryID, rec.Holder)
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the break")
	return cmd
}

// guardHistory refuses when the draft or main branch has diverged from the
// remote. A project that is not yet a repository has nothing to compare; an
// unreachable remote only warns.
func guardHistory(cmd *cobra.Command, env *cli.Env, root string) error {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return nil
	}
	cfg, err := env.Config()
	if err != nil {
		return err
	}
	logger, err := env.Logger(false)
	if err != nil {
		return err
	}

	engine := vcs.NewGitEngine(root, vcs.GitOptions{Binary: cfg.VCS.Binary, Remote: cfg.VCS.Remote})
	if err := engine.Fetch(cmd.Context()); err != nil {
		p := cli.NewPrinter(cmd.ErrOrStderr())
		p.Printf("%s history not compared, fetch from %s failed: %v\n", p.Warn("warning:"), cfg.VCS.Remote, err)
		return nil
	}
	detector := conflict.New(conflict.Options{Engine: engine, Logger: logger, SkipFetch: true})
	for _, branch := range []string{cfg.Draft.Branch, cfg.Draft.MainBranch} {
		res, err := detector.GuardConsolidation(cmd.Context(), branch)
		if auxerrors.IsTerminal(err) {
			return fmt.Errorf("lock not taken, %s %s; reconcile it or rerun with --no-check: %w", branch, res.Summary(), err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func printStatus(w io.Writer, repository, self string, rec *lockapi.Lock, now time.Time) {
	p := cli.NewPrinter(w)
	if rec == nil || !rec.Live(now) {
		p.Printf("%s %s\n", p.Bold(repository), p.Success("unlocked"))
		return
	}
	who := rec.Holder + "@" + rec.MachineID
	if rec.Holder == self {
		who = p.Success(who + " (you)")
	} else {
		who = p.Warn(who)
	}
	p.Printf("%s held by %s\n", p.Bold(repository), who)
	p.Printf("  acquired   %s\n", rec.AcquiredAt.Local().Format(time.DateTime))
	p.Printf("  expires    %s (in %s)\n", rec.ExpiresAt.Local().Format(time.DateTime), rec.ExpiresAt.Sub(now).Round(time.Minute))
	if !rec.LastHeartbeatAt.IsZero() {
		p.Printf("  heartbeat  %s\n", rec.LastHeartbeatAt.Local().Format(time.DateTime))
	}
}

// describe turns a lock conflict into a who/when message.
func describe(err error) error {
	if holder, expires, ok := auxerrors.ConflictDetails(err); ok {
		return fmt.Errorf("lock is held by %s until %s", holder, expires.Local().Format(time.DateTime))
	}
	if auxerrors.IsLockGone(err) {
		return fmt.Errorf("no live lock to act on: %w", err)
	}
	return err
}
