package project

import (
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/cmd/cli"
)

func newAddCmd(env *cli.Env) *cobra.Command {
	var appType string
	cmd := &cobra.Command{
		Use:   "add [path]",
		Short: "Start watching a project",
		Long: `Register a project directory with the running daemon. The application
type is detected from the directory unless --type is given. The daemon
writes the ignore file, prepares the draft branch and starts watching.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := cli.ResolveProject(args, "")
			if err != nil {
				return err
			}
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			st, err := client.AddProject(cmd.Context(), root, appType)
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s %s\n", p.Success("watching"), p.Bold(st.ID), p.Muted("("+st.AppType+", "+st.Root+")"))
			return nil
		},
	}
	cmd.Flags().StringVar(&appType, "type", "", "application type instead of detection")
	return cmd
}

func newRemoveCmd(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Stop watching a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			if err := client.RemoveProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			p.Printf("%s %s\n", p.Success("removed"), args[0])
			return nil
		},
	}
}

func newListCmd(env *cli.Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List watched projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := env.DaemonClient()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return cli.PrintJSON(cmd.OutOrStdout(), st.Projects)
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			if len(st.Projects) == 0 {
				p.Println(p.Muted("no projects registered"))
				return nil
			}
			for _, proj := range st.Projects {
				p.Printf("%-20s %-10s %s\n", proj.ID, proj.AppType, p.Muted(proj.Root))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print projects as JSON")
	return cmd
}
