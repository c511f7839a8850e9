package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/cmd/cli"
	"github.com/jbacus/auxin/internal/ignore"
)

func registerIgnoreCmd(parent *cobra.Command, env *cli.Env) {
	var appType string

	// policyFor detects (or looks up) the project's application type.
	policyFor := func(root string) (*ignore.Policy, error) {
		reg, err := env.Registry()
		if err != nil {
			return nil, err
		}
		var c apptype.Capability
		if appType != "" {
			var ok bool
			if c, ok = reg.Lookup(appType); !ok {
				return nil, fmt.Errorf("unknown application type %q (known: %v)", appType, reg.Names())
			}
		} else {
			c = reg.Detect(root)
		}
		return ignore.New(c), nil
	}

	ignoreCmd := &cobra.Command{
		Use:   "ignore",
		Short: "Show or write a project's ignore policy",
	}
	ignoreCmd.PersistentFlags().StringVar(&appType, "type", "", "application type instead of detection")

	showCmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the ignore file auxin would write",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := cli.ResolveProject(args, "")
			if err != nil {
				return err
			}
			policy, err := policyFor(root)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), policy.Render())
			return err
		},
	}

	writeCmd := &cobra.Command{
		Use:   "write [path]",
		Short: "Write the ignore file into the project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := cli.ResolveProject(args, "")
			if err != nil {
				return err
			}
			policy, err := policyFor(root)
			if err != nil {
				return err
			}
			changed, err := ignore.WriteFile(afero.NewOsFs(), root, "", policy)
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			target := filepath.Join(root, ignore.DefaultFileName)
			if changed {
				p.Printf("%s %s (%s)\n", p.Success("wrote"), target, policy.AppType)
			} else {
				p.Printf("%s %s\n", p.Muted("unchanged"), target)
			}
			return nil
		},
	}

	var project string
	checkCmd := &cobra.Command{
		Use:   "check <file>...",
		Short: "Report whether files would be ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := cli.ResolveProject([]string{project}, "")
			if err != nil {
				return err
			}
			policy, err := policyFor(root)
			if err != nil {
				return err
			}
			matcher, err := ignore.Load(afero.NewOsFs(), root, policy)
			if err != nil {
				return err
			}
			p := cli.NewPrinter(cmd.OutOrStdout())
			for _, arg := range args {
				rel := arg
				if filepath.IsAbs(arg) {
					if rel, err = filepath.Rel(root, arg); err != nil {
						return err
					}
				}
				if rule, ok := matcher.MatchRule(filepath.ToSlash(rel)); ok {
					p.Printf("%s %s %s\n", p.Warn("ignored"), rel, p.Muted("("+rule+")"))
				} else {
					p.Printf("%s %s\n", p.Success("tracked"), rel)
				}
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&project, "project", "", "project directory (default: working directory)")

	ignoreCmd.AddCommand(showCmd, writeCmd, checkCmd)
	parent.AddCommand(ignoreCmd)
}
