package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
)

func registerActivityCmd(parent *cobra.Command, env *cli.Env) {
	var (
		repo   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "activity [path]",
		Short: "Show the lock activity log of a project",
		Long: `Show who acquired, released, broke or let expire the lock of a project,
most recent first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, err := cli.ResolveProject(args, repo)
			if err != nil {
				return err
			}
			client, err := env.LockClient(id)
			if err != nil {
				return err
			}
			entries, err := client.Activity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.PrintJSON(cmd.OutOrStdout(), entries)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			if len(entries) == 0 {
				p.Println(p.Muted("no activity for " + client.RepositoryID()))
				return nil
			}
			for _, e := range entries {
				p.Printf("%s  %-17s %s@%s %s\n",
					p.Muted(e.CreatedAt.Local().Format(time.DateTime)),
					e.Kind, e.Actor, e.MachineID, p.Muted(e.Detail))
			}
			return nil
		},
	}
	cli.AddRepoFlag(cmd, &repo)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	parent.AddCommand(cmd)
}
