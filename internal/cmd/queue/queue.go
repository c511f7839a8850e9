package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/daemon"
	"github.com/jbacus/auxin/internal/offlinequeue"
	"github.com/jbacus/auxin/internal/util"
)

// projectIDs lists the projects that have state under stateDir.
func projectIDs(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(stateDir, "projects"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func newListCmd(env *cli.Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list [project-id]",
		Short: "List queued operations",
		Long: `List queued operations read from disk. Works whether or not the daemon is
running. Without a project ID every project's queue is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			stateDir := cfg.Daemon.ResolveStateDir()
			ids := args
			if len(ids) == 0 {
				if ids, err = projectIDs(stateDir); err != nil {
					return err
				}
			}

			all := map[string][]offlinequeue.Entry{}
			for _, id := range ids {
				entries, err := offlinequeue.ReadEntries(daemon.ProjectStateDir(stateDir, id))
				if err != nil {
					return fmt.Errorf("read queue of %s: %w", id, err)
				}
				if len(entries) > 0 {
					all[id] = entries
				}
			}
			if asJSON {
				return cli.PrintJSON(cmd.OutOrStdout(), all)
			}
			printEntries(cmd.OutOrStdout(), ids, all, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON keyed by project")
	return cmd
}

func printEntries(w io.Writer, ids []string, all map[string][]offlinequeue.Entry, now time.Time) {
	p := cli.NewPrinter(w)
	if len(all) == 0 {
		p.Println(p.Muted("offline queue is empty"))
		return
	}
	for _, id := range ids {
		entries := all[id]
		if len(entries) == 0 {
			continue
		}
		p.Printf("%s %s\n", p.Bold(id), p.Muted(fmt.Sprintf("(%d queued)", len(entries))))
		for _, e := range entries {
			next := "due now"
			if e.NextAttemptAt.After(now) {
				next = "next in " + e.NextAttemptAt.Sub(now).Round(time.Second).String()
			}
			p.Printf("  %-9s attempts=%d  %s  %s\n", e.Kind, e.AttemptCount, next, p.Muted(e.CreatedAt.Local().Format(time.DateTime)))
			if e.LastError != "" {
				p.Printf("    %s\n", p.Err(util.Truncate(e.LastError, 120)))
			}
		}
	}
}

func newFlushCmd(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "flush <project-id>",
		Short: "Replay a project's due queue entries now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			res, err := client.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("replayed %d, failed %d, dropped %d, %d remaining\n", res.Replayed, res.Failed, res.Dropped, res.Remaining)
			if res.Blocked {
				p.Println(p.Warn("head entry is waiting for its next attempt"))
			}
			return nil
		},
	}
}

func newClearCmd(env *cli.Env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear <project-id>",
		Short: "Discard a project's queued operations",
		Long: `Discard every queued operation of a project. The daemon must be stopped,
since it owns the queue while running. Requires --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clearing drops unsynced work; rerun with --yes")
			}
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			if client.Ping(cmd.Context()) {
				return fmt.Errorf("the daemon is running; stop it before clearing its queue")
			}
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			logger, err := env.Logger(false)
			if err != nil {
				return err
			}
			q, err := offlinequeue.Open(offlinequeue.Options{
				Dir:       daemon.ProjectStateDir(cfg.Daemon.ResolveStateDir(), args[0]),
				ProjectID: args[0],
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			n, err := q.Clear()
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %d entries from %s\n", p.Warn("cleared"), n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding queued work")
	return cmd
}
